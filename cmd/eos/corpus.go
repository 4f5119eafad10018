// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/phosphorescence/eos/lib/binhash"
	"github.com/phosphorescence/eos/lib/track"
)

// corpusCmd implements "eos corpus".
func corpusCmd(args []string) error {
	if len(args) == 0 {
		return usagef("corpus needs a subcommand: pack or inspect")
	}
	switch args[0] {
	case "pack":
		return corpusPackCmd(args[1:])
	case "inspect":
		return corpusInspectCmd(args[1:], os.Stdout)
	}
	return usagef("unknown corpus subcommand %q (want pack or inspect)", args[0])
}

// corpusPackCmd re-encodes a corpus, optionally adding track records.
func corpusPackCmd(args []string) error {
	flags := newFlagSet("corpus pack", "Re-encode a corpus blob", "corpus pack [flags] <corpus> [record...]")
	output := flags.StringP("output", "o", "", "output file (required)")
	encodingName := flags.String("encoding", string(track.EncodingCBOR), "output encoding: cbor or json")
	compressionName := flags.String("compression", string(track.CompressionZstd), "output compression: none, gzip, zstd, or lz4")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return usagef("corpus pack needs an input corpus")
	}
	if *output == "" {
		return usagef("--output is required")
	}
	encoding, err := track.ParseEncoding(*encodingName)
	if err != nil {
		return usagef("%v", err)
	}
	compression, err := track.ParseCompression(*compressionName)
	if err != nil {
		return usagef("%v", err)
	}

	corpus, err := readCorpus(flags.Arg(0))
	if err != nil {
		return err
	}
	records, err := readRecords(flags.Args()[1:])
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := corpus.Add(record); err != nil {
			return err
		}
	}

	blob, err := track.EncodeCorpus(corpus, encoding, compression)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, blob, 0o644); err != nil {
		return fmt.Errorf("writing corpus: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s: %d tracks, %s/%s, %d bytes\n", *output, corpus.Len(), encoding, compression, len(blob))
	return nil
}

// corpusInspectCmd describes a corpus blob.
func corpusInspectCmd(args []string, w io.Writer) error {
	flags := newFlagSet("corpus inspect", "Describe a corpus blob", "corpus inspect <corpus>")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return usagef("corpus inspect needs exactly one corpus")
	}
	path := flags.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading corpus: %w", err)
	}
	payload, err := track.Decompress(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	corpus, err := track.DecodeCorpus(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	duplicates := 0
	for _, ids := range corpus.Tags {
		if len(ids) > 1 {
			duplicates += len(ids) - 1
		}
	}
	digest, err := binhash.HashFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "File:         %s\n", path)
	fmt.Fprintf(w, "Digest:       %s\n", digest)
	fmt.Fprintf(w, "Size:         %d bytes (%d uncompressed)\n", len(data), len(payload))
	fmt.Fprintf(w, "Compression:  %s\n", track.SniffCompression(data))
	fmt.Fprintf(w, "Encoding:     %s\n", track.SniffEncoding(payload))
	fmt.Fprintf(w, "Tracks:       %d\n", corpus.Len())
	fmt.Fprintf(w, "Tags:         %d\n", len(corpus.Tags))
	fmt.Fprintf(w, "Duplicates:   %d\n", duplicates)
	return nil
}
