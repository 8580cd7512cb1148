package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/scene"
	"github.com/roach88/sigil/internal/selector"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	FailFast bool
}

// CheckFinding is one validation finding, normalized across file-level
// and field-level errors.
type CheckFinding struct {
	Path    string `json:"path,omitempty"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CheckResult holds the outcome of checking scene documents.
type CheckResult struct {
	Valid    bool           `json:"valid"`
	Files    int            `json:"files"`
	Findings []CheckFinding `json:"findings,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <scene.yaml|dir>",
		Short: "Validate scene documents",
		Long: `Validate scene documents against the schema and parse their selectors.

Checks YAML structure, the embedded CUE schema, pool names, duplicate
ids and labels, and every declared selector. A directory is walked for
.yaml and .yml files.

Exit codes:
  0 - All documents valid
  1 - Validation findings
  2 - Command error (path not found, etc.)

Examples:
  sigil check ./scenes
  sigil check dungeon.yaml --fail-fast
  sigil check ./scenes --output json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first finding")

	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	info, err := os.Stat(path)
	if err != nil {
		return outputCheckError(formatter, scene.ErrCodeNotFound, fmt.Sprintf("path not found: %s", path))
	}

	var files int
	var findings []CheckFinding
	if info.IsDir() {
		files, findings, err = checkDir(opts, path)
	} else {
		files, findings = 1, checkFile(opts, path)
	}
	if err != nil {
		var le *scene.LoadError
		if errors.As(err, &le) {
			return outputCheckError(formatter, le.Code, le.Message)
		}
		return outputCheckError(formatter, scene.ErrCodeGeneric, err.Error())
	}

	formatter.VerboseLog("Checked %d scene file(s) in %s", files, path)

	if len(findings) > 0 {
		return outputCheckFindings(formatter, files, findings)
	}
	return outputCheckSuccess(formatter, files)
}

// checkDir validates every scene file under dir. Directory-level
// failures (nothing to check, unreadable) come back as the error;
// per-document problems come back as findings.
func checkDir(opts *CheckOptions, dir string) (int, []CheckFinding, error) {
	mode := scene.LoadCollectAll
	if opts.FailFast {
		mode = scene.LoadFailFast
	}

	result, errs := scene.LoadDir(dir, selector.DefaultLimits, mode)
	if result == nil {
		if len(errs) > 0 {
			return 0, nil, errs[0]
		}
		return 0, nil, fmt.Errorf("loading %s", dir)
	}

	findings := make([]CheckFinding, 0, len(errs))
	for _, err := range errs {
		var le *scene.LoadError
		if errors.As(err, &le) {
			findings = append(findings, CheckFinding{Path: le.Path, Code: le.Code, Message: le.Message})
			continue
		}
		findings = append(findings, CheckFinding{Code: scene.ErrCodeGeneric, Message: err.Error()})
	}
	return result.FileCount, findings, nil
}

// checkFile validates one scene document. Decode failures are findings
// like any other; the file was present but wrong.
func checkFile(opts *CheckOptions, path string) []CheckFinding {
	doc, err := scene.ParseFile(path)
	if err != nil {
		var le *scene.LoadError
		if errors.As(err, &le) {
			return []CheckFinding{{Path: le.Path, Code: le.Code, Message: le.Message}}
		}
		return []CheckFinding{{Path: path, Code: scene.ErrCodeGeneric, Message: err.Error()}}
	}

	vErrs := scene.Validate(doc, selector.DefaultLimits)
	findings := make([]CheckFinding, 0, len(vErrs))
	for _, ve := range vErrs {
		findings = append(findings, CheckFinding{Path: path, Field: ve.Field, Code: ve.Code, Message: ve.Message})
		if opts.FailFast {
			break
		}
	}
	return findings
}

// outputCheckSuccess outputs a clean result.
func outputCheckSuccess(formatter *OutputFormatter, files int) error {
	if formatter.JSON() {
		return formatter.Success(CheckResult{Valid: true, Files: files})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d scene file(s) valid\n", files)
	return nil
}

// outputCheckError outputs a command-level error (exit code 2).
func outputCheckError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCheckFindings outputs validation findings (exit code 1).
func outputCheckFindings(formatter *OutputFormatter, files int, findings []CheckFinding) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   CheckResult{Valid: false, Files: files, Findings: findings},
			Error: &CLIError{
				Code:    findings[0].Code,
				Message: findings[0].Message,
			},
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d finding(s)", len(findings)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, f := range findings {
		if f.Path != "" {
			fmt.Fprintf(formatter.Writer, "%s\n", f.Path)
		}
		if f.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", f.Code, f.Field, f.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", f.Code, f.Message)
		}
	}
	fmt.Fprintln(formatter.Writer)

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d finding(s)", len(findings)))
}
