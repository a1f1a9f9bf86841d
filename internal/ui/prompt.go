package ui

import (
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"lakedeploy/pkg/errors"
)

// Prompter asks the user for input. The survey implementation drives a terminal;
// tests substitute scripted answers.
type Prompter interface {
	Input(message, help, defaultValue string, required bool) (string, error)
	Password(message, help string) (string, error)
	Select(message string, options []string, defaultValue string) (string, error)
	MultiSelect(message string, options []string, defaults []string) ([]string, error)
	Confirm(message string, defaultValue bool) (bool, error)
}

// SurveyPrompter prompts on the terminal
type SurveyPrompter struct{}

// NewSurveyPrompter returns a terminal prompter
func NewSurveyPrompter() *SurveyPrompter {
	return &SurveyPrompter{}
}

func (SurveyPrompter) Input(message, help, defaultValue string, required bool) (string, error) {
	var answer string
	var opts []survey.AskOpt
	if required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}
	err := survey.AskOne(&survey.Input{Message: message, Help: help, Default: defaultValue}, &answer, opts...)
	return answer, promptError(err)
}

func (SurveyPrompter) Password(message, help string) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Password{Message: message, Help: help}, &answer)
	return answer, promptError(err)
}

func (SurveyPrompter) Select(message string, options []string, defaultValue string) (string, error) {
	var answer string
	prompt := &survey.Select{Message: message, Options: options}
	if defaultValue != "" {
		prompt.Default = defaultValue
	}
	err := survey.AskOne(prompt, &answer)
	return answer, promptError(err)
}

func (SurveyPrompter) MultiSelect(message string, options []string, defaults []string) ([]string, error) {
	var answer []string
	prompt := &survey.MultiSelect{Message: message, Options: options}
	if len(defaults) > 0 {
		prompt.Default = defaults
	}
	err := survey.AskOne(prompt, &answer)
	return answer, promptError(err)
}

func (SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	var answer bool
	err := survey.AskOne(&survey.Confirm{Message: message, Default: defaultValue}, &answer)
	return answer, promptError(err)
}

// promptError maps Ctrl-C to a cancelled-operation error
func promptError(err error) error {
	if err == nil {
		return nil
	}
	if err == terminal.InterruptErr {
		return errors.New(errors.ErrCodeJobCancelled, "setup cancelled")
	}
	return errors.Wrap(err, errors.ErrCodeInvalidInput, "prompt failed")
}
