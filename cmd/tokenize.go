package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lakedeploy/internal/common"
	"lakedeploy/internal/tokenize"
	"lakedeploy/pkg/errors"
)

var (
	tokenizeMap            []string
	tokenizeMappingFile    string
	tokenizeMappingOut     string
	tokenizeDetectGUIDs    bool
	tokenizeDecodePayloads bool
	tokenizeOut            string

	detokenizeSet            []string
	detokenizeValuesFile     string
	detokenizeStrict         bool
	detokenizeDecodePayloads bool
	detokenizeOut            string
)

var tokenizeCmd = &cobra.Command{
	Use:   "tokenize <file>",
	Short: "Replace environment-specific values in a JSON definition with {{TOKEN}} placeholders",
	Long: `Replace environment-specific values (workspace and lakehouse IDs, names, endpoints)
in every JSON string of an exported item definition with {{TOKEN}} placeholders, so the
definition can be deployed to another workspace.

Longer values are replaced first. With --detect-guids, GUIDs without a mapping get
generated GUID_1, GUID_2, ... tokens; the full mapping can be saved with --mapping-out.`,
	Example: `  lakedeploy tokenize data_agent.json --map WORKSPACE_ID=2f1c... --map GOLD_LAKEHOUSE_ID=9a7e...
  lakedeploy tokenize definition.json --detect-guids --decode-payloads --out template.json --mapping-out tokens.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenize,
}

var detokenizeCmd = &cobra.Command{
	Use:   "detokenize <file>",
	Short: "Substitute {{TOKEN}} placeholders in a JSON definition with values",
	Example: `  lakedeploy detokenize template.json --set WORKSPACE_ID=2f1c... --strict
  lakedeploy detokenize template.json --values tokens.yaml --out definition.json`,
	Args: cobra.ExactArgs(1),
	RunE: runDetokenize,
}

func init() {
	rootCmd.AddCommand(tokenizeCmd)
	rootCmd.AddCommand(detokenizeCmd)

	tf := tokenizeCmd.Flags()
	tf.StringArrayVar(&tokenizeMap, "map", nil, "TOKEN=value to replace (repeatable)")
	tf.StringVar(&tokenizeMappingFile, "mapping", "", "YAML file with token/value entries")
	tf.StringVar(&tokenizeMappingOut, "mapping-out", "", "write the final mapping, including generated GUID tokens, as YAML")
	tf.BoolVar(&tokenizeDetectGUIDs, "detect-guids", false, "tokenize GUIDs that have no mapping")
	tf.BoolVar(&tokenizeDecodePayloads, "decode-payloads", false, "also tokenize the decoded content of InlineBase64 parts")
	tf.StringVarP(&tokenizeOut, "out", "o", "", "output file (default stdout)")

	df := detokenizeCmd.Flags()
	df.StringArrayVar(&detokenizeSet, "set", nil, "TOKEN=value to substitute (repeatable)")
	df.StringVar(&detokenizeValuesFile, "values", "", "YAML file with token/value entries")
	df.BoolVar(&detokenizeStrict, "strict", false, "fail when a placeholder has no value")
	df.BoolVar(&detokenizeDecodePayloads, "decode-payloads", true, "also substitute inside InlineBase64 parts")
	df.StringVarP(&detokenizeOut, "out", "o", "", "output file (default stdout)")
}

func runTokenize(cmd *cobra.Command, args []string) error {
	doc, err := readInput(args[0])
	if err != nil {
		return err
	}
	mapping, err := loadMapping(tokenizeMappingFile, tokenizeMap)
	if err != nil {
		return err
	}

	out, final, err := tokenize.Tokenize(doc, mapping, tokenize.Options{
		DecodePayloads: tokenizeDecodePayloads,
		DetectGUIDs:    tokenizeDetectGUIDs,
	})
	if err != nil {
		return err
	}

	if generated := len(final) - len(mapping); generated > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Generated %d GUID tokens\n", generated)
	}
	if tokenizeMappingOut != "" {
		data, err := yaml.Marshal(final)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode token mapping")
		}
		if err := writeOutput(cmd, tokenizeMappingOut, data); err != nil {
			return err
		}
	}
	return writeOutput(cmd, tokenizeOut, out)
}

func runDetokenize(cmd *cobra.Command, args []string) error {
	doc, err := readInput(args[0])
	if err != nil {
		return err
	}
	mapping, err := loadMapping(detokenizeValuesFile, detokenizeSet)
	if err != nil {
		return err
	}

	out, err := tokenize.Detokenize(doc, mapping.Values(), tokenize.Options{
		DecodePayloads: detokenizeDecodePayloads,
		Strict:         detokenizeStrict,
	})
	if err != nil {
		if missing := tokenize.UnresolvedTokens(err); len(missing) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Unresolved tokens: %s\n", strings.Join(missing, ", "))
		}
		return err
	}

	if !detokenizeStrict {
		if left := tokenize.Placeholders(out); len(left) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: placeholders without a value: %s\n", strings.Join(left, ", "))
		}
	}
	return writeOutput(cmd, detokenizeOut, out)
}

// loadMapping merges a YAML mapping file with command-line assignments; assignments win
func loadMapping(file string, pairs []string) (tokenize.Mapping, error) {
	var mapping tokenize.Mapping
	if file != "" {
		data, err := readInput(file)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &mapping); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid token mapping file").WithContext("path", file)
		}
	}

	assigned, err := tokenize.ParseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	if len(assigned) == 0 {
		return mapping, mapping.Validate()
	}

	values := mapping.Values()
	for _, e := range assigned {
		values[e.Token] = e.Value
	}
	merged := tokenize.FromValues(values)
	return merged, merged.Validate()
}

func readInput(path string) ([]byte, error) {
	clean, err := common.CleanPath(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid path").WithContext("path", path)
	}
	data, err := os.ReadFile(clean) // #nosec G304 - path is validated
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.ErrCodeFileNotFound, "File '%s' not found", path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to read file").WithContext("path", path)
	}
	return data, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		if !bytes.HasSuffix(data, []byte("\n")) {
			data = append(data, '\n')
		}
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	clean, err := common.CleanPath(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid output path").WithContext("path", path)
	}
	if err := os.WriteFile(clean, data, common.FilePermissionNormal); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "failed to write file").WithContext("path", clean)
	}
	return nil
}
