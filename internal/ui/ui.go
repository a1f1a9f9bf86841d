package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"lakedeploy/pkg/errors"
)

// Console writes user-facing output. Quiet suppresses everything but errors.
type Console struct {
	Out     io.Writer
	Verbose bool
	Quiet   bool
}

// NewConsole creates a console writing to stdout
func NewConsole(verbose, quiet bool) *Console {
	return &Console{Out: os.Stdout, Verbose: verbose, Quiet: quiet}
}

func (c *Console) writer() io.Writer {
	if c == nil || c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// Writer returns the output for progress rendering; io.Discard when quiet
func (c *Console) Writer() io.Writer {
	if c.quiet() {
		return io.Discard
	}
	return c.writer()
}

func (c *Console) quiet() bool {
	return c != nil && c.Quiet
}

// Printf prints formatted output unless quiet
func (c *Console) Printf(format string, args ...interface{}) {
	if !c.quiet() {
		fmt.Fprintf(c.writer(), format, args...)
	}
}

// Println prints a line unless quiet
func (c *Console) Println(args ...interface{}) {
	if !c.quiet() {
		fmt.Fprintln(c.writer(), args...)
	}
}

// VerbosePrintf prints only in verbose mode
func (c *Console) VerbosePrintf(format string, args ...interface{}) {
	if c != nil && c.Verbose && !c.Quiet {
		fmt.Fprintf(c.writer(), format, args...)
	}
}

// Header prints a boxed title
func (c *Console) Header(title string) {
	c.Printf("%s", header(title))
}

// Section prints a section title with a rule underneath
func (c *Console) Section(title string) {
	c.Printf("\n%s %s\n%s\n", ColorBold("▶"), ColorBold(title), strings.Repeat("─", 50))
}

// KeyValue prints an aligned key/value pair
func (c *Console) KeyValue(key, value string) {
	c.Printf("  %-20s %s\n", ColorDim(key+":"), value)
}

// Info prints an information line
func (c *Console) Info(message string) {
	c.Printf("%s %s\n", ColorInfo("INFO:"), message)
}

// Success prints a success line
func (c *Console) Success(message string) {
	c.Printf("%s %s\n", ColorSuccess("SUCCESS:"), message)
}

// Warning prints a warning line
func (c *Console) Warning(message string) {
	c.Printf("%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

// Error prints an error line, even in quiet mode
func (c *Console) Error(message string) {
	fmt.Fprintf(c.writer(), "%s %s\n", ColorError("✗"), message)
}

// DryRun prints an action that a dry run skipped
func (c *Console) DryRun(format string, args ...interface{}) {
	c.Printf("  %s %s\n", ColorWarning("[dry-run]"), fmt.Sprintf(format, args...))
}

// Remediation prints the message and suggestions of an error that ends the run
// without being a failure of the tool itself, such as missing permissions
func (c *Console) Remediation(err error) {
	w := c.writer()
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		fmt.Fprintf(w, "\n%s %s\n", ColorWarning("!"), err.Error())
		return
	}

	fmt.Fprintf(w, "\n%s %s\n", ColorWarning("!"), ColorBold(appErr.Message))
	suggestions := collectSuggestions(err)
	if len(suggestions) > 0 {
		fmt.Fprintf(w, "\n%s\n", ColorInfo("To fix this:"))
		for i, s := range suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}
	fmt.Fprintln(w)
}

// collectSuggestions gathers suggestions from every AppError in the chain
func collectSuggestions(err error) []string {
	var out []string
	seen := map[string]bool{}
	for err != nil {
		if ae, ok := err.(*errors.AppError); ok {
			for _, s := range ae.Suggestions {
				if !seen[s] {
					seen[s] = true
					out = append(out, s)
				}
			}
			err = ae.Cause
			continue
		}
		err = unwrap(err)
	}
	return out
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// ErrorText returns a one-line description of err
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	text := appErr.Message
	if appErr.Cause != nil {
		var inner *errors.AppError
		if errors.As(appErr.Cause, &inner) {
			text += ": " + ErrorText(inner)
		} else {
			text += ": " + appErr.Cause.Error()
		}
	}
	return text
}
