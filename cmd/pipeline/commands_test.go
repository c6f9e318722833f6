package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func run(args ...string) error {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	return root.Execute()
}

func TestIngestNeedsExactlyOneSource(t *testing.T) {
	assert.ErrorContains(t, run("ingest"), "exactly one of --file or --source")
	assert.ErrorContains(t, run("ingest", "--file", "batch.json", "--source"), "exactly one of --file or --source")
}

func TestWindowFlagsAreValidatedBeforeWiring(t *testing.T) {
	assert.ErrorContains(t, run("train", "--from", "last tuesday"), "invalid from")
	assert.ErrorContains(t, run("evaluate", "--from", "2024-02-01", "--to", "2024-01-01"), "must be before")
}

func TestTuneRequiresModel(t *testing.T) {
	assert.ErrorContains(t, run("tune"), "model")
}
