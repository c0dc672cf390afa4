package service

import (
	"context"
	"testing"

	"go-retrial/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestMessageProcessor_Process(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "valid order", body: `{"order_id":"o-1","customer":"c-1","amount":12.5,"currency":"EUR"}`},
		{name: "missing id", body: `{"amount":12.5,"currency":"EUR"}`, wantErr: ErrInvalidOrder},
		{name: "zero amount", body: `{"order_id":"o-1","currency":"EUR"}`, wantErr: ErrInvalidOrder},
		{name: "bad currency", body: `{"order_id":"o-1","amount":1,"currency":"euro"}`, wantErr: ErrInvalidOrder},
	}

	p := NewMessageProcessor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Process(context.Background(), models.Envelope{MessageID: "m", Body: []byte(tt.body)})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMessageProcessor_InvalidJSON(t *testing.T) {
	err := NewMessageProcessor().Process(context.Background(), models.Envelope{Body: []byte("not json")})
	assert.ErrorContains(t, err, "failed to parse message")
}

func TestMessageProcessor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMessageProcessor().Process(ctx, models.Envelope{Body: []byte(`{}`)})
	assert.ErrorIs(t, err, context.Canceled)
}
