package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
)

type resolveFlags struct {
	input           string
	format          string
	output          string
	threshold       float64
	weights         string
	minDensity      float64
	mergeSingletons bool
	idStrategy      string
	priorities      string
}

func newResolveCmd(a *app) *cobra.Command {
	var f resolveFlags

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a batch file and print the golden records",
		Long: "resolve reads a batch of source records from a JSON or YAML file, runs the " +
			"full pipeline in memory and prints the result. Nothing is persisted or published.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := applyResolveFlags(cmd, *a.config, f)

			matchCfg, err := cfg.MatchingConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				matchCfg.Threshold = f.threshold
				if err := matchCfg.Validate(); err != nil {
					return err
				}
			}

			batch, err := readBatchFile(f.input, f.format)
			if err != nil {
				return err
			}

			service, err := buildService(&cfg, matchCfg, a.logger)
			if err != nil {
				return err
			}

			result, err := service.Resolve(cmd.Context(), batch.Records)
			if err != nil {
				return err
			}
			result.BatchID = batch.BatchID

			return writeResult(cmd.OutOrStdout(), result, f.output)
		},
	}

	cmd.Flags().StringVarP(&f.input, "input", "i", "", "batch file (JSON or YAML)")
	cmd.Flags().StringVar(&f.format, "format", "", "input format: json or yaml (default: from the file extension)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "table", "output format: json, yaml or table")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "override MATCH_THRESHOLD")
	cmd.Flags().StringVar(&f.weights, "weights", "", "override MATCH_WEIGHTS_FILE")
	cmd.Flags().Float64Var(&f.minDensity, "min-density", 0, "override CLUSTER_MIN_DENSITY")
	cmd.Flags().BoolVar(&f.mergeSingletons, "merge-singletons", false, "override MERGE_SINGLETONS")
	cmd.Flags().StringVar(&f.idStrategy, "id-strategy", "", "override MERGE_ID_STRATEGY (random or membership)")
	cmd.Flags().StringVar(&f.priorities, "priorities", "", "override MERGE_SOURCE_PRIORITIES, e.g. crm=10,erp=5")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// applyResolveFlags overlays the flags the user set on a copy of the config
func applyResolveFlags(cmd *cobra.Command, cfg config.Config, f resolveFlags) config.Config {
	flags := cmd.Flags()
	if flags.Changed("weights") {
		cfg.MatchWeightsFile = f.weights
	}
	if flags.Changed("min-density") {
		cfg.ClusterMinDensity = f.minDensity
	}
	if flags.Changed("merge-singletons") {
		cfg.MergeSingletons = f.mergeSingletons
	}
	if flags.Changed("id-strategy") {
		cfg.MergeIDStrategy = f.idStrategy
	}
	if flags.Changed("priorities") {
		cfg.MergeSourcePriorities = f.priorities
	}
	return cfg
}

// readBatchFile loads a batch from path. The file holds either a batch object
// or a bare list of records.
func readBatchFile(path, format string) (models.RecordBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RecordBatch{}, fmt.Errorf("failed to read batch file: %w", err)
	}

	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = "yaml"
		default:
			format = "json"
		}
	}

	batch, err := decodeBatch(data, format)
	if err != nil {
		return models.RecordBatch{}, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if batch.BatchID == "" {
		batch.BatchID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return batch, nil
}

func decodeBatch(data []byte, format string) (models.RecordBatch, error) {
	var batch models.RecordBatch

	switch strings.ToLower(format) {
	case "json":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err := json.Unmarshal(trimmed, &batch.Records)
			return batch, err
		}
		err := json.Unmarshal(trimmed, &batch)
		return batch, err
	case "yaml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return batch, err
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err := node.Content[0].Decode(&batch.Records)
			return batch, err
		}
		err := node.Decode(&batch)
		return batch, err
	default:
		return batch, fmt.Errorf("unknown input format %q: want json or yaml", format)
	}
}

func writeResult(w io.Writer, result *resolution.Result, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		// round-trip through JSON so the yaml keys follow the json tags
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		writeTables(w, result)
		return nil
	default:
		return fmt.Errorf("unknown output format %q: want json, yaml or table", format)
	}
}

func writeTables(w io.Writer, result *resolution.Result) {
	golden := table.NewWriter()
	golden.SetOutputMirror(w)
	golden.SetTitle("Golden records")
	golden.AppendHeader(table.Row{"Golden ID", "Entity Type", "Sources", "Attributes", "Conflicts"})
	for _, g := range result.GoldenRecords {
		golden.AppendRow(table.Row{
			g.GoldenID,
			g.EntityType,
			strings.Join(g.SourceRecordIDs, "\n"),
			formatAttributes(g.Attributes),
			len(g.Conflicts),
		})
	}
	golden.Render()

	if len(result.Unmatched) > 0 {
		unmatched := table.NewWriter()
		unmatched.SetOutputMirror(w)
		unmatched.SetTitle("Unmatched records")
		unmatched.AppendHeader(table.Row{"Record ID", "Source", "Entity Type"})
		for _, r := range result.Unmatched {
			unmatched.AppendRow(table.Row{r.RecordID, r.SourceSystem, r.EntityType})
		}
		unmatched.Render()
	}

	s := result.Stats
	stats := table.NewWriter()
	stats.SetOutputMirror(w)
	stats.SetTitle("Run " + result.RunID)
	stats.AppendRows([]table.Row{
		{"Records", s.Records},
		{"Blocks", s.Blocks},
		{"Comparisons", s.Comparisons},
		{"Candidates", s.Candidates},
		{"Clusters", s.Clusters},
		{"Chained clusters", s.ChainedClusters},
		{"Golden records", s.GoldenRecords},
		{"Unmatched", s.Unmatched},
		{"Duration", s.Duration.String()},
	})
	stats.Render()
}

func formatAttributes(attrs models.Attributes) string {
	lines := make([]string, 0, len(attrs))
	for _, k := range attrs.Keys() {
		lines = append(lines, fmt.Sprintf("%s=%s", k, attrs[k].Text()))
	}
	return strings.Join(lines, "\n")
}
