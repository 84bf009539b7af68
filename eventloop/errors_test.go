package eventloop

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPanicError(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   string
		unwrap error
	}{
		{name: "string", value: "boom", want: "eventloop: task panicked: boom"},
		{name: "error", value: io.EOF, want: "eventloop: task panicked: EOF", unwrap: io.EOF},
		{name: "nil", value: nil, want: "eventloop: task panicked: <nil>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PanicError{Value: tt.value}
			assert.EqualError(t, err, tt.want)
			assert.Equal(t, tt.unwrap, err.Unwrap())
		})
	}

	var pe PanicError
	assert.True(t, errors.As(error(PanicError{Value: io.EOF}), &pe))
	assert.ErrorIs(t, PanicError{Value: io.EOF}, io.EOF)
}
