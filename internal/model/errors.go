package model

import "errors"

var (
	ErrNotReady       = errors.New("model not loaded")
	ErrBusy           = errors.New("inference already in progress")
	ErrDecode         = errors.New("failed to decode image")
	ErrShape          = errors.New("input does not match model shape")
	ErrInference      = errors.New("inference failed")
	ErrOutputMismatch = errors.New("model output length does not match class count")
	ErrClosed         = errors.New("adapter closed")
)
