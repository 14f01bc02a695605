// Command gen_gguf writes a minimal valid GGUF file carrying just the
// metadata a scanner needs to size a model. Handy for trying
// "scout inspect" without downloading anything real.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

func main() {
	out := flag.String("o", "fixture.gguf", "output path")
	heads := flag.Uint("heads", 32, "attention head count")
	kvHeads := flag.Uint("kv-heads", 8, "kv head count")
	layers := flag.Uint("layers", 4, "hidden layer count")
	dim := flag.Uint64("dim", 256, "embedding length")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}

	write := func(v interface{}) {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			log.Fatal(err)
		}
	}
	str := func(s string) {
		write(uint64(len(s)))
		if _, err := io.WriteString(f, s); err != nil {
			log.Fatal(err)
		}
	}

	write(uint32(0x46554747)) // magic "GGUF"
	write(uint32(3))          // version
	write(uint64(0))          // tensor count
	write(uint64(6))          // kv count

	str("general.architecture")
	write(uint32(8)) // string
	str("llama")

	str("general.name")
	write(uint32(8))
	str("scout fixture")

	str("llama.attention.head_count")
	write(uint32(4)) // uint32
	write(uint32(*heads))

	str("llama.attention.head_count_kv")
	write(uint32(4))
	write(uint32(*kvHeads))

	str("llama.block_count")
	write(uint32(4))
	write(uint32(*layers))

	str("llama.embedding_length")
	write(uint32(10)) // uint64
	write(*dim)

	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("wrote", *out)
}
