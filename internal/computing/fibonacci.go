// Package computing holds the computations tasks can run.
package computing

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/RezaEskandarii/taskrelay/custom_errors"
)

const (
	MaxFibonacciInput    = 100
	MaxFibonacciSequence = 50
)

// FibonacciInput is the payload of a fibonacci:calculate task.
type FibonacciInput struct {
	N int `json:"n"`
}

func (in FibonacciInput) Validate() error {
	verr := &custom_errors.ValidationError{}
	if in.N < 0 {
		verr.AddField("n", "Value must be non-negative")
	}
	if in.N > MaxFibonacciInput {
		verr.AddField("n", fmt.Sprintf("Value too large, must be %d or less", MaxFibonacciInput))
	}
	if verr.HasError() {
		return verr
	}
	return nil
}

// Fibonacci returns F(n) with F(0)=0 and F(1)=1.
func Fibonacci(n int) (*big.Int, error) {
	if n < 0 {
		return nil, fmt.Errorf("n needs to be non-negative, got %d", n)
	}
	if n <= 1 {
		return big.NewInt(int64(n)), nil
	}
	a, b := big.NewInt(0), big.NewInt(1)
	for i := 1; i < n; i++ {
		a.Add(a, b)
		a, b = b, a
	}
	return b, nil
}

// FibonacciSequence returns F(0)..F(count-1).
func FibonacciSequence(count int) ([]*big.Int, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	seq := make([]*big.Int, 0, count)
	a, b := big.NewInt(0), big.NewInt(1)
	for i := 0; i < count; i++ {
		seq = append(seq, new(big.Int).Set(a))
		a.Add(a, b)
		a, b = b, a
	}
	return seq, nil
}

// FibonacciHandler executes fibonacci:calculate tasks.
type FibonacciHandler struct{}

func (FibonacciHandler) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var in FibonacciInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid fibonacci input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Fibonacci(in.N)
}
