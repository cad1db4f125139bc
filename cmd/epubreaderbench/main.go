// Command epubreaderbench drives the whole read pipeline over a set of
// EPUB files and reports per-book timings and output volumes: central
// directory size, chapters stripped, text bytes emitted, images decoded.
// Decoded PNG covers are also checked against a reference downscale
// (golang.org/x/image/draw) by mean luminance, a cheap way to notice a
// broken dither or filter path on real books.
package main

import (
	"bytes"
	"fmt"
	"image"
	stdpng "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adammathes/epubreader/pkg/corepub/chapter"
	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/epubstruct"
	"github.com/adammathes/epubreader/pkg/corepub/htmlstrip"
	"github.com/adammathes/epubreader/pkg/corepub/png"
	"github.com/adammathes/epubreader/pkg/corepub/zipindex"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: epubreaderbench <file.epub | dir> [--log <file>] [--max-w N] [--max-h N]")
		os.Exit(2)
	}

	target := args[0]
	logPath := ""
	maxW, maxH := 480, 800
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--log":
			if i+1 < len(args) {
				logPath = args[i+1]
				i++
			}
		case "--max-w":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &maxW)
				i++
			}
		case "--max-h":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &maxH)
				i++
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if logPath != "" {
		logger = slog.New(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 3,
		}, nil))
	}

	paths := []string{target}
	if st, err := os.Stat(target); err == nil && st.IsDir() {
		paths, _ = filepath.Glob(filepath.Join(target, "*.epub"))
	}
	if len(paths) == 0 {
		logger.Error("nothing to bench", "target", target)
		os.Exit(1)
	}

	failed := 0
	for _, path := range paths {
		if err := benchOne(logger, path, maxW, maxH); err != nil {
			logger.Error("bench failed", "book", path, "err", err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func benchOne(logger *slog.Logger, path string, maxW, maxH int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	read := func(offset uint32, buf []byte) (int, error) {
		if int64(offset) >= int64(len(data)) {
			return 0, nil
		}
		return copy(buf, data[offset:]), nil
	}

	start := time.Now()

	tailLen := 65536 + 22
	if tailLen > len(data) {
		tailLen = len(data)
	}
	cdOff, cdSize, err := zipindex.ParseEOCD(data[len(data)-tailLen:], uint64(len(data)))
	if err != nil {
		return err
	}
	idx, err := zipindex.ParseCentralDirectory(data[cdOff : cdOff+cdSize])
	if err != nil {
		return err
	}

	buf := make([]byte, 256*1024)
	ci, ok := idx.Find("META-INF/container.xml")
	if !ok {
		return fmt.Errorf("no container.xml")
	}
	cdata, err := zipindex.ExtractEntry(idx.Entries[ci], read, nil, buf)
	if err != nil {
		return err
	}
	opfPath, err := epubstruct.ParseContainer(cdata)
	if err != nil {
		return err
	}
	oi, ok := idx.Find(opfPath)
	if !ok {
		return fmt.Errorf("opf %q not in container", opfPath)
	}
	odata, err := zipindex.ExtractEntry(idx.Entries[oi], read, nil, buf)
	if err != nil {
		return err
	}
	opfDir := ""
	if i := strings.LastIndexByte(opfPath, '/'); i >= 0 {
		opfDir = opfPath[:i]
	}
	pkg, err := epubstruct.ParseOPF(odata, opfDir)
	if err != nil {
		return err
	}
	pkg.ResolveSpine(idx.Find)

	dec := deflate.NewDecompressor()
	var textBytes, runs, chapters int
	for _, item := range pkg.Spine {
		if item.Err != nil || item.EntryIndex < 0 {
			logger.Warn("spine item skipped", "book", path, "id", item.ManifestID, "err", item.Err)
			continue
		}
		_, err := chapter.StreamStripEntry(idx.Entries[item.EntryIndex], read, dec, func(r htmlstrip.Run) error {
			runs++
			textBytes += len(r.Text)
			return nil
		})
		if err != nil {
			logger.Warn("chapter failed", "book", path, "entry", idx.Entries[item.EntryIndex].Name, "err", err)
			continue
		}
		chapters++
	}

	images, worstDelta := benchImages(logger, path, idx, read, dec, maxW, maxH)

	logger.Info("book done",
		"book", filepath.Base(path),
		"entries", len(idx.Entries),
		"title", pkg.Meta.TitleStr(),
		"chapters", chapters,
		"runs", runs,
		"text_bytes", textBytes,
		"images", images,
		"worst_lum_delta", fmt.Sprintf("%.1f", worstDelta),
		"elapsed", time.Since(start).String(),
	)
	return nil
}

// benchImages decodes every PNG entry and compares mean luminance against
// a reference downscale of the same image.
func benchImages(logger *slog.Logger, path string, idx *zipindex.Index, read zipindex.ReadFunc, dec *deflate.Decompressor, maxW, maxH int) (count int, worstDelta float64) {
	for _, e := range idx.Entries {
		if !strings.HasSuffix(strings.ToLower(e.Name), ".png") {
			continue
		}
		blob := make([]byte, e.UncompressedSize)
		data, err := zipindex.ExtractEntry(e, read, dec, blob)
		if err != nil {
			logger.Warn("image extract failed", "book", path, "entry", e.Name, "err", err)
			continue
		}

		var ones, bits int
		info, err := png.Decode(func(offset uint32, buf []byte) (int, error) {
			if int(offset) >= len(data) {
				return 0, nil
			}
			return copy(buf, data[offset:]), nil
		}, dec, png.Opts{MaxW: maxW, MaxH: maxH}, func(y int, row []byte) error {
			for x := 0; x < len(row)*8; x++ {
				if row[x>>3]&(0x80>>(x&7)) != 0 {
					ones++
				}
				bits++
			}
			return nil
		})
		if err != nil {
			logger.Warn("image decode failed", "book", path, "entry", e.Name, "err", err)
			continue
		}
		count++

		ref, err := referenceMeanLuminance(data, info.OutW, info.OutH)
		if err != nil {
			continue
		}
		got := 255 * float64(ones) / float64(bits)
		delta := got - ref
		if delta < 0 {
			delta = -delta
		}
		if delta > worstDelta {
			worstDelta = delta
		}
	}
	return count, worstDelta
}

// referenceMeanLuminance decodes with the standard library and downscales
// with x/image/draw, returning the mean 8-bit luminance of the result.
func referenceMeanLuminance(data []byte, w, h int) (float64, error) {
	src, err := stdpng.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	var sum uint64
	for _, p := range dst.Pix {
		sum += uint64(p)
	}
	return float64(sum) / float64(len(dst.Pix)), nil
}
