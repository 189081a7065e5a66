package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/rs/zerolog"

	"github.com/thesyncim/streamdec"
)

// FileFormat is the container of a recorded stream.
type FileFormat int

const (
	FileAuto   FileFormat = iota // Detect from name and content
	FileFramed                   // Length-prefixed packets as sent over TCP
	FileAnnexB                   // Raw H.264 elementary stream
	FileMP4                      // Progressive MP4 with an avc1 track
)

func (f FileFormat) String() string {
	switch f {
	case FileAuto:
		return "auto"
	case FileFramed:
		return "framed"
	case FileAnnexB:
		return "annexb"
	case FileMP4:
		return "mp4"
	default:
		return "unknown"
	}
}

// ParseFileFormat parses a format name.
func ParseFileFormat(name string) (FileFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return FileAuto, true
	case "framed":
		return FileFramed, true
	case "annexb", "h264", "264":
		return FileAnnexB, true
	case "mp4":
		return FileMP4, true
	}
	return FileAuto, false
}

// DetectFileFormat guesses the format from the file name and its first bytes.
func DetectFileFormat(name string, head []byte) FileFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v", ".mov":
		return FileMP4
	case ".h264", ".264", ".avc":
		return FileAnnexB
	}
	if len(head) >= 8 && string(head[4:8]) == "ftyp" {
		return FileMP4
	}
	if bytes.HasPrefix(head, []byte{0, 0, 0, 1}) || bytes.HasPrefix(head, []byte{0, 0, 1}) {
		return FileAnnexB
	}
	return FileFramed
}

// frameTicks is the timestamp step used for files without timing (30 fps).
const frameTicks = 90000 / 30

// FileConfig configures a FileSource.
type FileConfig struct {
	Path   string
	Format FileFormat

	// Interval paces packets (0 = as fast as the handler consumes them).
	Interval time.Duration

	Logger *zerolog.Logger // nil = disabled
}

// FileSource replays a recorded stream once.
type FileSource struct {
	cfg FileConfig
	log zerolog.Logger
}

// NewFileSource creates a file source.
func NewFileSource(cfg FileConfig) *FileSource {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &FileSource{
		cfg: cfg,
		log: log.With().Str("component", "ingest.file").Str("path", cfg.Path).Logger(),
	}
}

type fileAddr string

func (a fileAddr) Network() string { return "file" }
func (a fileAddr) String() string  { return string(a) }

// Run delivers every packet of the file, then returns nil.
func (f *FileSource) Run(ctx context.Context, h Handler) error {
	file, err := os.Open(f.cfg.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	format := f.cfg.Format
	if format == FileAuto {
		head := make([]byte, 8)
		n, _ := io.ReadFull(file, head)
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		format = DetectFileFormat(f.cfg.Path, head[:n])
	}
	f.log.Debug().Stringer("format", format).Msg("replaying file")

	if err := h.HandleConnect(fileAddr(f.cfg.Path)); err != nil {
		h.HandleDisconnect(err)
		return err
	}

	var tick <-chan time.Time
	if f.cfg.Interval > 0 {
		t := time.NewTicker(f.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}
	emit := func(pkt Packet) error {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		return h.HandlePacket(ctx, pkt)
	}

	switch format {
	case FileFramed:
		err = readFramed(file, emit, f.log)
	case FileAnnexB:
		err = readAnnexB(file, emit)
	case FileMP4:
		err = readMP4(file, emit)
	default:
		err = fmt.Errorf("unsupported file format %d", format)
	}
	h.HandleDisconnect(err)
	return err
}

func readFramed(r io.Reader, emit func(Packet) error, log zerolog.Logger) error {
	fr := NewReader(r, 0)
	for {
		pkt, err := fr.Next()
		if errors.Is(err, ErrUnknownType) {
			log.Warn().Uint32("type", uint32(pkt.Type)).Msg("skipping packet")
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(pkt); err != nil {
			return err
		}
	}
}

// readAnnexB splits an elementary stream into access units, each ending with
// the last slice of its picture.
func readAnnexB(r io.Reader, emit func(Packet) error) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var ts uint32
	for len(data) > 0 {
		n, ok := streamdec.NextAccessUnit(data, true)
		if !ok {
			n = len(data)
		}
		pkt := Packet{Type: streamdec.StreamTypeH264, Timestamp: ts, Payload: data[:n]}
		if err := emit(pkt); err != nil {
			return err
		}
		data = data[n:]
		ts += frameTicks
	}
	return nil
}

// readMP4 emits the avcC parameter sets, then every sample of the first
// video track with the parameter sets repeated ahead of sync samples.
func readMP4(r io.ReadSeeker, emit func(Packet) error) error {
	file, err := mp4.DecodeFile(r)
	if err != nil {
		return fmt.Errorf("decode mp4: %w", err)
	}
	if file.Moov == nil {
		return errors.New("mp4: no moov box (fragmented files are not supported)")
	}

	var (
		track *mp4.TrakBox
		avcC  *mp4.AvcCBox
	)
	for _, trak := range file.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
			continue
		}
		for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
			if entry, ok := child.(*mp4.VisualSampleEntryBox); ok && entry.AvcC != nil {
				track, avcC = trak, entry.AvcC
				break
			}
		}
		if track != nil {
			break
		}
	}
	if track == nil {
		return errors.New("mp4: no H.264 video track")
	}

	header := appendAnnexB(nil, avcC.SPSnalus, avcC.PPSnalus)
	if err := emit(Packet{Type: streamdec.StreamTypeH264, Payload: header}); err != nil {
		return err
	}

	stbl := track.Mdia.Minf.Stbl
	if stbl.Stsz == nil {
		return errors.New("mp4: no stsz box")
	}
	timescale := uint64(90000)
	if track.Mdia.Mdhd != nil && track.Mdia.Mdhd.Timescale > 0 {
		timescale = uint64(track.Mdia.Mdhd.Timescale)
	}
	syncSamples := map[uint32]bool{}
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	for nr := uint32(1); nr <= stbl.Stsz.SampleNumber; nr++ {
		sample, err := sampleData(stbl, r, nr)
		if err != nil {
			return fmt.Errorf("mp4 sample %d: %w", nr, err)
		}
		nalus, err := avc.GetNalusFromSample(sample)
		if err != nil {
			return fmt.Errorf("mp4 sample %d: %w", nr, err)
		}
		var out []byte
		if syncSamples[nr] || len(syncSamples) == 0 {
			out = append(out, header...)
		}
		var decodeTime uint64
		if stbl.Stts != nil {
			decodeTime, _ = stbl.Stts.GetDecodeTime(nr)
		}
		pkt := Packet{
			Type:      streamdec.StreamTypeH264,
			Timestamp: uint32(decodeTime * 90000 / timescale),
			Payload:   appendAnnexB(out, nalus),
		}
		if err := emit(pkt); err != nil {
			return err
		}
	}
	return nil
}

// sampleData reads one sample of a progressive file.
func sampleData(stbl *mp4.StblBox, r io.ReadSeeker, nr uint32) ([]byte, error) {
	if stbl.Stsc == nil {
		return nil, errors.New("missing stsc box")
	}
	chunkNr, firstSample, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
	if err != nil {
		return nil, err
	}

	var offset uint64
	switch {
	case stbl.Stco != nil:
		if offset, err = stbl.Stco.GetOffset(chunkNr); err != nil {
			return nil, err
		}
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return nil, fmt.Errorf("chunk %d out of range", chunkNr)
		}
		offset = stbl.Co64.ChunkOffset[chunkNr-1]
	default:
		return nil, errors.New("no stco or co64 box")
	}
	for s := uint32(firstSample); s < nr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}

	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, stbl.Stsz.GetSampleSize(int(nr)))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
