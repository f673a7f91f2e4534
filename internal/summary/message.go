package summary

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ppiankov/launchpad/internal/notify"
)

// Messages renders the notification sent at the end of a run.
type Messages interface {
	Success(user, runType string, s Summary) notify.Message
	Failure(user, runType string, s Summary) notify.Message
}

// Message picks the success or failure variant for s.
func Message(m Messages, user, runType string, s Summary) notify.Message {
	if s.AllSucceeded() {
		return m.Success(user, runType, s)
	}
	return m.Failure(user, runType, s)
}

// Locale templates. Each receives messageData.
type localeTemplates struct {
	successTitle string
	successBody  string
	failureTitle string
	failureBody  string
}

var locales = map[string]localeTemplates{
	"zh": {
		successTitle: `喜报：全部任务完成`,
		successBody:  `{{.User}} 的 {{.RunType}} 任务已完成，成功任务 {{.Succeeded}} 个。`,
		failureTitle: `悲报：您有{{.FailedCount}}个任务炸了`,
		failureBody: `{{.User}} 的 {{.RunType}} 任务已完成，成功任务 {{.Succeeded}} 个，失败 {{.FailedCount}} 个。以下为失败的任务列表：
{{join .Failed "\n"}}`,
	},
	"en": {
		successTitle: `Good news: all tasks completed`,
		successBody:  `{{.User}}'s {{.RunType}} tasks have finished: {{.Succeeded}} succeeded.`,
		failureTitle: `Bad news: {{.FailedCount}} {{if eq .FailedCount 1}}task{{else}}tasks{{end}} failed`,
		failureBody: `{{.User}}'s {{.RunType}} tasks have finished: {{.Succeeded}} succeeded, {{.FailedCount}} failed. Failed tasks:
{{join .Failed "\n"}}`,
	},
}

// DefaultLocale is the wording used when no locale is configured.
const DefaultLocale = "zh"

type messageData struct {
	User        string
	RunType     string
	Succeeded   int
	FailedCount int
	Failed      []string
}

// TemplateMessages renders messages from text/template sources.
type TemplateMessages struct {
	successTitle *template.Template
	successBody  *template.Template
	failureTitle *template.Template
	failureBody  *template.Template
}

// NewMessages returns the built-in wording for locale ("zh" or "en").
// An empty locale selects DefaultLocale.
func NewMessages(locale string) (*TemplateMessages, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	lt, ok := locales[locale]
	if !ok {
		return nil, fmt.Errorf("unknown locale %q", locale)
	}
	return parseLocale(locale, lt)
}

// MustMessages is NewMessages for built-in locales known at compile time.
func MustMessages(locale string) *TemplateMessages {
	m, err := NewMessages(locale)
	if err != nil {
		panic(err)
	}
	return m
}

func parseLocale(name string, lt localeTemplates) (*TemplateMessages, error) {
	funcs := template.FuncMap{"join": strings.Join}
	parse := func(part, src string) (*template.Template, error) {
		t, err := template.New(name + "." + part).Funcs(funcs).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s %s template: %w", name, part, err)
		}
		return t, nil
	}

	var m TemplateMessages
	var err error
	if m.successTitle, err = parse("success_title", lt.successTitle); err != nil {
		return nil, err
	}
	if m.successBody, err = parse("success_body", lt.successBody); err != nil {
		return nil, err
	}
	if m.failureTitle, err = parse("failure_title", lt.failureTitle); err != nil {
		return nil, err
	}
	if m.failureBody, err = parse("failure_body", lt.failureBody); err != nil {
		return nil, err
	}
	return &m, nil
}

// Success renders the all-tasks-completed message. It names no tasks.
func (m *TemplateMessages) Success(user, runType string, s Summary) notify.Message {
	d := newMessageData(user, runType, s)
	return notify.Message{Title: render(m.successTitle, d), Body: render(m.successBody, d)}
}

// Failure renders the some-tasks-failed message listing every failed task, one per line.
func (m *TemplateMessages) Failure(user, runType string, s Summary) notify.Message {
	d := newMessageData(user, runType, s)
	return notify.Message{Title: render(m.failureTitle, d), Body: render(m.failureBody, d)}
}

func newMessageData(user, runType string, s Summary) messageData {
	return messageData{
		User:        user,
		RunType:     runType,
		Succeeded:   s.Succeeded,
		FailedCount: len(s.Failed),
		Failed:      s.Failed,
	}
}

// render executes t. An execution error is rendered into the text so the
// notification still goes out.
func render(t *template.Template, d messageData) string {
	var b strings.Builder
	if err := t.Execute(&b, d); err != nil {
		return fmt.Sprintf("%s: %v", t.Name(), err)
	}
	return b.String()
}
