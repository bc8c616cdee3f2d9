// Package repository provides blob destinations for archived output.
package repository

import (
	"context"
	"io"
)

// Repository writes immutable objects by key.
type Repository interface {
	Write(ctx context.Context, key string, reader io.Reader) error
}
