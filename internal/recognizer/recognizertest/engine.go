// Package recognizertest provides a scripted recognizer.Engine for tests.
package recognizertest

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/meetscribe/internal/recognizer"
)

// TextFunc maps recognised audio to text. Returning "" yields no result.
type TextFunc func(samples []int16) string

// Engine produces streaming recognizers that report an utterance boundary
// every Every blocks and flush the remainder at FinalResult.
type Engine struct {
	Text  TextFunc
	Every int

	mu         sync.Mutex
	created    int
	failNew    error
	failFinal  error
	finalDelay func()
	rates      []int
	segments   [][]int16
}

// New returns an engine that only emits results at FinalResult.
func New(text TextFunc) *Engine {
	return &Engine{Text: text}
}

// FailNew makes NewRecognizer return err.
func (e *Engine) FailNew(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNew = err
}

// FailFinal makes FinalResult return err.
func (e *Engine) FailFinal(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failFinal = err
}

// BlockFinal runs fn inside every FinalResult before it returns.
func (e *Engine) BlockFinal(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalDelay = fn
}

// Created returns how many recognizers were created.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Segments returns every buffer fed to a recognizer that reached FinalResult.
func (e *Engine) Segments() [][]int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]int16(nil), e.segments...)
}

func (e *Engine) NewRecognizer(_ context.Context, sampleRate int) (recognizer.Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNew != nil {
		return nil, e.failNew
	}
	e.created++
	e.rates = append(e.rates, sampleRate)
	return &fakeRecognizer{e: e}, nil
}

type fakeRecognizer struct {
	e       *Engine
	all     []int16
	pending []int16
	blocks  int
	last    recognizer.Result
	closed  bool
}

var errClosed = errors.New("recognizer closed")

func (r *fakeRecognizer) AcceptSamples(samples []int16) (bool, error) {
	if r.closed {
		return false, errClosed
	}
	r.all = append(r.all, samples...)
	r.pending = append(r.pending, samples...)
	r.blocks++
	if r.e.Every > 0 && r.blocks%r.e.Every == 0 {
		r.last = recognizer.Result{Text: r.e.Text(r.pending)}
		r.pending = nil
		return true, nil
	}
	return false, nil
}

func (r *fakeRecognizer) Result() recognizer.Result { return r.last }

func (r *fakeRecognizer) FinalResult() (recognizer.Result, error) {
	r.e.mu.Lock()
	failFinal, delay := r.e.failFinal, r.e.finalDelay
	r.e.segments = append(r.e.segments, r.all)
	r.e.mu.Unlock()

	if delay != nil {
		delay()
	}
	if failFinal != nil {
		return recognizer.Result{}, failFinal
	}
	if len(r.pending) == 0 {
		return recognizer.Result{}, nil
	}
	res := recognizer.Result{Text: r.e.Text(r.pending)}
	r.pending = nil
	return res, nil
}

func (r *fakeRecognizer) Close() error {
	r.closed = true
	return nil
}
