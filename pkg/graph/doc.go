// Package graph defines the shape graph produced by evaluating a shape
// script: primitives placed by transforms, combined by groups and boolean
// operations, plus the hyperparameters the script declares.
package graph
