// Command epubreaderfuzz generates randomized EPUB containers, injects
// byte-level faults (truncated tails, single-byte flips, 16-byte XOR runs,
// zeroed leading bytes) into some of them, and pushes each
// through the read pipeline. The pipeline must return errors, never
// panic; a panic is a bug and the offending container is written out for
// replay.
package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adammathes/epubreader/pkg/corepub/chapter"
	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/epubstruct"
	"github.com/adammathes/epubreader/pkg/corepub/htmlstrip"
	"github.com/adammathes/epubreader/pkg/corepub/zipindex"
)

// fault is one mutation applied to a generated container.
type fault struct {
	name   string
	weight int
	apply  func(data []byte, rng *rand.Rand) []byte
}

var faults = []fault{
	{"none", 4, func(d []byte, _ *rand.Rand) []byte { return d }},
	{"truncate-tail", 2, func(d []byte, rng *rand.Rand) []byte {
		cut := 1 + rng.Intn(64)
		if cut >= len(d) {
			cut = len(d) - 1
		}
		return d[:len(d)-cut]
	}},
	{"flip-byte", 3, func(d []byte, rng *rand.Rand) []byte {
		out := append([]byte(nil), d...)
		out[rng.Intn(len(out))] ^= byte(1 + rng.Intn(255))
		return out
	}},
	{"flip-run", 2, func(d []byte, rng *rand.Rand) []byte {
		out := append([]byte(nil), d...)
		start := rng.Intn(len(out))
		for i := start; i < len(out) && i < start+16; i++ {
			out[i] ^= 0xA5
		}
		return out
	}},
	{"zero-head", 1, func(d []byte, rng *rand.Rand) []byte {
		out := append([]byte(nil), d...)
		n := 4 + rng.Intn(26)
		for i := 0; i < n && i < len(out); i++ {
			out[i] = 0
		}
		return out
	}},
}

func pickFault(rng *rand.Rand) fault {
	total := 0
	for _, f := range faults {
		total += f.weight
	}
	n := rng.Intn(total)
	for _, f := range faults {
		n -= f.weight
		if n < 0 {
			return f
		}
	}
	return faults[0]
}

func main() {
	iterations := 500
	seed := int64(1)
	logPath := ""
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--n":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &iterations)
				i++
			}
		case "--seed":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &seed)
				i++
			}
		case "--log":
			if i+1 < len(args) {
				logPath = args[i+1]
				i++
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if logPath != "" {
		logger = slog.New(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    20, // MB
			MaxBackups: 2,
		}, nil))
	}

	rng := rand.New(rand.NewSource(seed))
	errCount := 0
	for i := 0; i < iterations; i++ {
		base := generate(rng)
		f := pickFault(rng)
		mutated := f.apply(base, rng)

		if crashed := runOne(logger, i, f.name, mutated); crashed {
			path := fmt.Sprintf("fuzz-crash-%04d.epub", i)
			os.WriteFile(path, mutated, 0o644)
			logger.Error("pipeline panicked", "iter", i, "fault", f.name, "saved", path)
			os.Exit(1)
		} else if f.name != "none" {
			errCount++
		}
	}
	logger.Info("fuzz run complete", "iterations", iterations, "seed", seed, "mutated", errCount)
}

// runOne reports whether the pipeline panicked.
func runOne(logger *slog.Logger, iter int, faultName string, data []byte) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			logger.Error("panic", "iter", iter, "fault", faultName, "recover", fmt.Sprint(r))
		}
	}()

	read := func(offset uint32, buf []byte) (int, error) {
		if int64(offset) >= int64(len(data)) {
			return 0, nil
		}
		return copy(buf, data[offset:]), nil
	}

	tailLen := 65536 + 22
	if tailLen > len(data) {
		tailLen = len(data)
	}
	cdOff, cdSize, err := zipindex.ParseEOCD(data[len(data)-tailLen:], uint64(len(data)))
	if err != nil {
		return false
	}
	if int64(cdOff)+int64(cdSize) > int64(len(data)) {
		return false
	}
	idx, err := zipindex.ParseCentralDirectory(data[cdOff : int64(cdOff)+int64(cdSize)])
	if err != nil {
		return false
	}

	buf := make([]byte, 128*1024)
	ci, ok := idx.Find("META-INF/container.xml")
	if !ok {
		return false
	}
	cdata, err := zipindex.ExtractEntry(idx.Entries[ci], read, nil, buf)
	if err != nil {
		return false
	}
	opfPath, err := epubstruct.ParseContainer(cdata)
	if err != nil {
		return false
	}
	oi, ok := idx.Find(opfPath)
	if !ok {
		return false
	}
	odata, err := zipindex.ExtractEntry(idx.Entries[oi], read, nil, buf)
	if err != nil {
		return false
	}
	opfDir := ""
	if i := strings.LastIndexByte(opfPath, '/'); i >= 0 {
		opfDir = opfPath[:i]
	}
	pkg, err := epubstruct.ParseOPF(odata, opfDir)
	if err != nil {
		return false
	}
	pkg.ResolveSpine(idx.Find)

	dec := deflate.NewDecompressor()
	for _, item := range pkg.Spine {
		if item.Err != nil || item.EntryIndex < 0 {
			continue
		}
		chapter.StreamStripEntry(idx.Entries[item.EntryIndex], read, dec, func(htmlstrip.Run) error { return nil })
	}
	return false
}

// generate builds a random but structurally valid EPUB in memory.
func generate(rng *rand.Rand) []byte {
	var out bytes.Buffer
	w := zip.NewWriter(&out)

	mt, _ := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	mt.Write([]byte("application/epub+zip"))

	cw, _ := w.CreateHeader(&zip.FileHeader{Name: "META-INF/container.xml", Method: zip.Deflate})
	cw.Write([]byte(`<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
<rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`))

	nChapters := 1 + rng.Intn(5)
	var manifest, spine strings.Builder
	for i := 0; i < nChapters; i++ {
		name := fmt.Sprintf("ch%d.xhtml", i)
		fmt.Fprintf(&manifest, `<item id="c%d" href="%s" media-type="application/xhtml+xml"/>`, i, name)
		fmt.Fprintf(&spine, `<itemref idref="c%d"/>`, i)

		var body strings.Builder
		body.WriteString("<html><body>")
		nParas := 1 + rng.Intn(20)
		for p := 0; p < nParas; p++ {
			body.WriteString("<p>")
			for wds := 0; wds < 5+rng.Intn(40); wds++ {
				fmt.Fprintf(&body, "w%d ", rng.Intn(1000))
			}
			if rng.Intn(3) == 0 {
				body.WriteString("<b>bold bit</b>")
			}
			if rng.Intn(5) == 0 {
				body.WriteString("&#65;&amp;")
			}
			body.WriteString("</p>")
		}
		body.WriteString("</body></html>")

		fw, _ := w.CreateHeader(&zip.FileHeader{Name: "OEBPS/" + name, Method: zip.Deflate})
		fw.Write([]byte(body.String()))
	}

	ow, _ := w.CreateHeader(&zip.FileHeader{Name: "OEBPS/content.opf", Method: zip.Deflate})
	fmt.Fprintf(ow, `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:title>Fuzz %d</dc:title><dc:creator>Nobody</dc:creator><dc:language>en</dc:language>
</metadata>
<manifest>%s</manifest>
<spine>%s</spine>
</package>`, rng.Intn(1<<20), manifest.String(), spine.String())

	w.Close()
	return out.Bytes()
}
