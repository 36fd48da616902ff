package main

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/clustering"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/resolution"
)

// buildService assembles the resolution pipeline from configuration
func buildService(cfg *config.Config, matchCfg matching.Config, logger ectologger.Logger, opts ...resolution.Option) (*resolution.Service, error) {
	matcher, err := matching.NewEngine(logger, matchCfg)
	if err != nil {
		return nil, err
	}

	builder, err := clustering.NewBuilder(logger, cfg.ClusteringConfig())
	if err != nil {
		return nil, err
	}

	mergeOpts, err := cfg.MergeOptions()
	if err != nil {
		return nil, err
	}

	return resolution.NewService(
		logger,
		matcher,
		builder,
		merging.NewEngine(logger, mergeOpts...),
		resolution.Config{MergeSingletons: cfg.MergeSingletons},
		opts...,
	), nil
}
