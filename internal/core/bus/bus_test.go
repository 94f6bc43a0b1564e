package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ep      Endpoint
		wantErr bool
	}{
		{name: "valid ws", ep: Endpoint{URL: "ws://127.0.0.1:60001/ws", Realm: "default"}},
		{name: "valid wss", ep: Endpoint{URL: "wss://router.example.com/ws", Realm: "ADS.MIDSHMI"}},
		{name: "missing realm", ep: Endpoint{URL: "ws://127.0.0.1:60001/ws"}, wantErr: true},
		{name: "missing url", ep: Endpoint{Realm: "default"}, wantErr: true},
		{name: "http scheme", ep: Endpoint{URL: "http://127.0.0.1:60001/ws", Realm: "default"}, wantErr: true},
		{name: "no host", ep: Endpoint{URL: "ws:///ws", Realm: "default"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTopic(t *testing.T) {
	valid := []string{"com.ads.midshmi.topic", "topic", "a.b_c.d-1"}
	for _, topic := range valid {
		assert.NoError(t, ValidateTopic(topic), topic)
	}

	invalid := []string{"", "com..topic", ".com", "com.", "com topic", "com.#"}
	for _, topic := range invalid {
		assert.ErrorIs(t, ValidateTopic(topic), ErrInvalidTopic, topic)
	}
}

func TestEvent_Content(t *testing.T) {
	withKwarg := Event{Args: []any{"ignored"}, Kwargs: map[string]any{"message": "hi"}}
	assert.Equal(t, "hi", withKwarg.Content())

	argsOnly := Event{Args: []any{map[string]any{"valor": 1.0}}}
	assert.Equal(t, []any{map[string]any{"valor": 1.0}}, argsOnly.Content())

	nullKwarg := Event{Args: []any{"a"}, Kwargs: map[string]any{"message": nil}}
	assert.Equal(t, []any{"a"}, nullKwarg.Content())

	for _, empty := range []any{0.0, "", false, map[string]any{}, []any{}} {
		ev := Event{Args: []any{"a"}, Kwargs: map[string]any{"message": empty}}
		assert.Equal(t, empty, ev.Content())
	}
}
