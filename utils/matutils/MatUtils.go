// Package matutils implements utility functions for working with
// mat.Matrix structs
package matutils

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Format formats a matrix for printing
func Format(X mat.Matrix) string {
	fa := mat.Formatted(X, mat.Prefix(""), mat.Squeeze())
	return fmt.Sprintf("%v", fa)
}

// VecOnes returns a vector of ones of a given length
func VecOnes(length int) *mat.VecDense {
	backing := make([]float64, length)
	for i := range backing {
		backing[i] = 1.0
	}
	return mat.NewVecDense(length, backing)
}
