package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"seq2seq/pkg/model"
)

const (
	defaultSrc = "1,5,6,4,3,9,5,2,0;1,8,7,3,4,5,6,7,2"
	defaultTrg = "1,7,4,3,5,9,2,0;1,5,6,2,4,7,6,2"
)

func main() {
	// Define command line flags
	srcVocab := flag.Int("src-vocab", 10, "Source vocabulary size")
	trgVocab := flag.Int("trg-vocab", 10, "Target vocabulary size")
	srcPad := flag.Int("src-pad", 0, "Source padding id")
	trgPad := flag.Int("trg-pad", 0, "Target padding id")
	embed := flag.Int("embed", 512, "Embedding size")
	layers := flag.Int("layers", 6, "Number of encoder and decoder layers")
	expansion := flag.Int("expansion", 4, "Feed-forward expansion factor")
	heads := flag.Int("heads", 8, "Number of attention heads")
	dropout := flag.Float64("dropout", 0, "Dropout probability")
	device := flag.String("device", model.DeviceCPU, "Execution device")
	maxLength := flag.Int("max-length", 100, "Maximum sequence length")
	workers := flag.Int("workers", 1, "Goroutines for batched matrix products")
	seed := flag.Uint64("seed", 0, "Weight initialization seed")
	srcFlag := flag.String("src", defaultSrc, "Source batch: comma-separated ids, rows separated by ';'")
	trgFlag := flag.String("trg", defaultTrg, "Target batch; the last column is dropped before the forward pass")
	decodeLen := flag.Int("decode", 0, "If > 0, also greedy-decode up to this many target tokens")
	startID := flag.Int("start-id", 1, "Start token for greedy decoding")
	endID := flag.Int("end-id", 2, "End token for greedy decoding (-1 to disable)")

	flag.Parse()

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("         Seq2Seq Transformer Forward Pass")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	config := model.DefaultConfig(*srcVocab, *trgVocab, *srcPad, *trgPad)
	config.EmbedSize = *embed
	config.NumLayers = *layers
	config.ForwardExpansion = *expansion
	config.Heads = *heads
	config.Dropout = *dropout
	config.Device = *device
	config.MaxLength = *maxLength
	config.Workers = *workers
	config.Seed = *seed

	fmt.Printf("Model Configuration:\n")
	fmt.Printf("  Vocab Size: src=%d trg=%d\n", config.SrcVocabSize, config.TrgVocabSize)
	fmt.Printf("  Pad Ids: src=%d trg=%d\n", config.SrcPadIdx, config.TrgPadIdx)
	fmt.Printf("  Embedding Size: %d\n", config.EmbedSize)
	fmt.Printf("  Num Heads: %d (dim %d)\n", config.Heads, config.HeadDimension())
	fmt.Printf("  Num Layers: %d\n", config.NumLayers)
	fmt.Printf("  Forward Expansion: %d\n", config.ForwardExpansion)
	fmt.Printf("  Dropout: %.1f\n", config.Dropout)
	fmt.Printf("  Max Length: %d\n", config.MaxLength)
	fmt.Printf("  Device: %s (workers=%d)\n", config.Device, config.Workers)
	fmt.Println()

	src, err := parseBatch(*srcFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -src: %v\n", err)
		os.Exit(1)
	}
	trg, err := parseBatch(*trgFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -trg: %v\n", err)
		os.Exit(1)
	}
	trgIn := make([][]int, len(trg))
	for b, row := range trg {
		if len(row) < 2 {
			fmt.Fprintf(os.Stderr, "Error: target rows need at least 2 tokens\n")
			os.Exit(1)
		}
		trgIn[b] = row[:len(row)-1]
	}

	fmt.Println("Initializing transformer...")
	start := time.Now()
	m, err := model.NewTransformer(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating model: %v\n", err)
		os.Exit(1)
	}
	m.SetTraining(config.Dropout > 0)
	fmt.Printf("Model initialized in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Println()

	fmt.Printf("Source: %v\n", src)
	fmt.Printf("Target input: %v\n", trgIn)
	fmt.Println()

	start = time.Now()
	logits, err := m.Forward(src, trgIn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running forward pass: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                Output")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("  Logits shape: %s\n", logits.ShapeString())
	fmt.Printf("  All finite:   %v\n", logits.AllFinite())
	fmt.Printf("  Forward time: %v\n", elapsed.Round(time.Microsecond))
	fmt.Println()

	if *decodeLen > 0 {
		fmt.Printf("Greedy decoding up to %d tokens...\n", *decodeLen)
		decoded, err := m.GreedyDecode(src, *startID, *endID, *decodeLen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding: %v\n", err)
			os.Exit(1)
		}
		for b, row := range decoded {
			fmt.Printf("  [%d] %v\n", b, row)
		}
	}
}

// parseBatch parses "1,2,3;4,5,6" into rows of token ids.
func parseBatch(s string) ([][]int, error) {
	var batch [][]int
	for i, line := range strings.Split(s, ";") {
		fields := strings.Split(strings.TrimSpace(line), ",")
		row := make([]int, 0, len(fields))
		for _, f := range fields {
			id, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid id %q: %w", i, f, err)
			}
			row = append(row, id)
		}
		batch = append(batch, row)
	}
	return batch, nil
}
