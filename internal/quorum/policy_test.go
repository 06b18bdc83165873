package quorum

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tests := []struct {
		size int
		want Policy
	}{
		{1, Policy{Ack: 1, From: 1}},
		{2, Policy{Ack: 2, From: 2}},
		{3, Policy{Ack: 2, From: 3}},
		{4, Policy{Ack: 3, From: 4}},
		{5, Policy{Ack: 3, From: 5}},
	}
	for _, tt := range tests {
		got := Default(tt.size)
		assert.Equal(t, tt.want, got, "size %d", tt.size)
		assert.NoError(t, got.Validate(tt.size))
	}
}

func TestResolve(t *testing.T) {
	def := Default(5)
	tests := []struct {
		name      string
		requested string
		size      int
		want      Policy
		wantErr   bool
	}{
		{name: "2/3 on five nodes", requested: "2/3", size: 5, want: Policy{Ack: 2, From: 3}},
		{name: "equals prefix", requested: "=1/2", size: 5, want: Policy{Ack: 1, From: 2}},
		{name: "default when empty", requested: "", size: 5, want: def},
		{name: "full cluster", requested: "5/5", size: 5, want: Policy{Ack: 5, From: 5}},
		{name: "zero ack", requested: "0/3", size: 5, wantErr: true},
		{name: "ack above from", requested: "4/3", size: 5, wantErr: true},
		{name: "from above cluster", requested: "3/10", size: 5, wantErr: true},
		{name: "missing slash", requested: "3", size: 5, wantErr: true},
		{name: "extra part", requested: "1/2/3", size: 5, wantErr: true},
		{name: "not a number", requested: "a/b", size: 5, wantErr: true},
		{name: "negative", requested: "-1/3", size: 5, wantErr: true},
		{name: "spaces", requested: " 1/3", size: 5, wantErr: true},
		{name: "empty parts", requested: "/", size: 5, wantErr: true},
		{name: "default invalid for smaller cluster", requested: "", size: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.requested, def, tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidQuorum), "error %v should wrap ErrInvalidQuorum", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "2/3", Policy{Ack: 2, From: 3}.String())
}
