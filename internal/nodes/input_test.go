package nodes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/pkg/domain"
)

const inputDoc = `
menu:
  nodes:
    - id: ask_name
      type: input
      text: "What is your name?"
      variable: name
      o_connection: greet
    - id: ask_age
      type: input
      text: "How old are you, {{ .name }}?"
      variable: age
      validation: "{{ if gt (atoi .input) 17 }}adult{{ else }}minor{{ end }}"
      inactivity_options:
        chat_timeout: 60
        warning_message: "Are you there?"
        time_between_attempts: 30s
        attempts: 2
      cases:
        - {id: adult, o_connection: n1}
        - {id: minor, o_connection: n2}
    - id: ask_code
      type: input
      variable: code
      validation: "{{ .unknown }}"
    - id: pick
      type: interactive_input
      variable: choice
      interactive_message:
        type: list
        title: "Pick one, {{ .name }}"
        items:
          - title: Pizza
          - title: Salad
`

func TestInput_PromptsAndWaits(t *testing.T) {
	f := compileFlow(t, inputDoc, nil)

	out := f.run(t, "ask_name", nil, nil)
	assert.Equal(t, Wait, out.Directive)
	assert.Nil(t, out.Inactivity)
	assert.Empty(t, out.Updates)

	assert.Equal(t, []string{"What is your name?"}, f.transport.Bodies(testKey))
}

func TestInput_StoresLiteralText(t *testing.T) {
	f := compileFlow(t, inputDoc, nil)

	out := f.run(t, "ask_name", nil, &domain.Message{Sender: "@ana:x", Body: "{{ .secret }} Ana"})
	assert.Equal(t, advance(domain.OutcomeDefault, map[string]string{"name": "{{ .secret }} Ana"}), out)
	assert.Empty(t, f.transport.Sent(), "resuming does not prompt again")
}

func TestInput_Validation(t *testing.T) {
	f := compileFlow(t, inputDoc, nil)

	out := f.run(t, "ask_age", map[string]string{"name": "Ana"}, nil)
	assert.Equal(t, Wait, out.Directive)
	require.NotNil(t, out.Inactivity)
	assert.Equal(t, InactivityOptions{
		ChatTimeout:         time.Minute,
		WarningMessage:      "Are you there?",
		TimeBetweenAttempts: 30 * time.Second,
		Attempts:            2,
	}, *out.Inactivity)
	assert.Equal(t, []string{"How old are you, Ana?"}, f.transport.Bodies(testKey))

	out = f.run(t, "ask_age", nil, &domain.Message{Body: "30"})
	assert.Equal(t, "adult", out.Key)
	assert.Equal(t, map[string]string{"age": "30"}, out.Updates)

	out = f.run(t, "ask_age", nil, &domain.Message{Body: "12"})
	assert.Equal(t, "minor", out.Key)

	out = f.run(t, "ask_code", nil, &domain.Message{Body: "X1"})
	assert.Equal(t, domain.OutcomeDefault, out.Key, "unrenderable validation falls back to default")
	assert.Equal(t, map[string]string{"code": "X1"}, out.Updates)
}

func TestInteractiveInput(t *testing.T) {
	f := compileFlow(t, inputDoc, nil)

	out := f.run(t, "pick", map[string]string{"name": "Ana"}, nil)
	assert.Equal(t, Wait, out.Directive)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.MsgInteractiveList, sent[0].Content.MsgType)
	assert.Equal(t, "Pick one, Ana", sent[0].Content.Body)
	assert.Equal(t, "Pick one, Ana", sent[0].Content.Interactive["title"])

	out = f.run(t, "pick", nil, &domain.Message{Body: "Pizza"})
	assert.Equal(t, map[string]string{"choice": "Pizza"}, out.Updates)
}

func TestInteractiveInput_QuickReply(t *testing.T) {
	f := compileFlow(t, `
menu:
  nodes:
    - id: confirm
      type: interactive_input
      variable: ok
      interactive_message:
        type: quick_reply
        content: {type: text, text: "Confirm?"}
        options: [{type: text, title: "Yes"}, {type: text, title: "No"}]
`, nil)

	f.run(t, "confirm", nil, nil)
	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.MsgInteractiveQuick, sent[0].Content.MsgType)
	assert.Equal(t, "Confirm?", sent[0].Content.Body)
}

func TestDurationHook(t *testing.T) {
	for in, want := range map[any]time.Duration{
		60:     time.Minute,
		1.5:    1500 * time.Millisecond,
		"90":   90 * time.Second,
		"2m":   2 * time.Minute,
		"1h5m": time.Hour + 5*time.Minute,
	} {
		got, err := durationHook(nil, durationType, in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %v", in)
	}
}
