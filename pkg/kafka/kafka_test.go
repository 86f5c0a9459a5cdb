package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		brokers []string
	}{
		{"empty", "", []string{}},
		{"single", "kafka:9092", []string{"kafka:9092"}},
		{"trims and skips blanks", " a:1 , ,b:2,", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.csv)
			assert.Equal(t, tt.brokers, c.Brokers)
			assert.Equal(t, len(tt.brokers) > 0, c.Enabled())
		})
	}
}

func TestNewProducer_Disabled(t *testing.T) {
	_, err := NewClient("").NewProducer("storefront.events")
	require.ErrorIs(t, err, ErrDisabled)
}

func TestNewWriter_UsesTopic(t *testing.T) {
	w := NewClient("kafka:9092").NewWriter("storefront.events")
	assert.Equal(t, "storefront.events", w.Topic)
}
