package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/kvtime/nanots"
)

func testCycles(n int, label string, testSize int, cb func()) {

	before := time.Now()

	for i := 0; i < n; i++ {
		cb()
	}

	after := time.Since(before)

	perCycle := after.Nanoseconds() / int64(testSize)
	log.Printf(" %s per cycle : %d/ns", label, perCycle)
}

func genFakeFrames(n int) [][]byte {

	frames := make([][]byte, n)

	for i := 0; i < n; i++ {
		size := 32 + rand.Intn(200)
		frames[i] = make([]byte, size)
		rand.Read(frames[i])
	}

	log.Printf("generated %d frames", n)

	return frames
}

func main() {

	path := "./storage/health_checks.nts"
	os.MkdirAll("./storage", 0755)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := nanots.Allocate(path, 1<<20, 64); err != nil {
			panic(err)
		}
	}

	w, err := nanots.NewWriter(path, true, nanots.DefaultConfig())
	if err != nil {
		panic(err)
	}
	defer w.Close()

	wc, err := w.CreateWriteContext("health_checks", "")
	if err != nil {
		panic(err)
	}
	defer wc.Close()

	frames := genFakeFrames(1000)
	ts := time.Now().UnixNano()

	testCycles(len(frames), "write", len(frames), func() {
		if err := wc.Write(frames[0], ts, 0); err != nil {
			panic(err)
		}
		ts++
	})

	r, err := nanots.NewReader(path)
	if err != nil {
		panic(err)
	}
	defer r.Close()

	var seen int
	if err := r.Read("health_checks", 0, ts, func(f nanots.Frame) {
		seen++
	}); err != nil {
		panic(err)
	}

	fmt.Printf("read back %d frames\n", seen)
}
