package media

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FrameSource is a seekable sequence of decoded video frames.
type FrameSource interface {
	// FrameRate returns the nominal frames per second, 0 when unknown.
	FrameRate() float64
	// FrameCount returns the number of frames, 0 when unknown.
	FrameCount() int
	// Seek positions the source so that the next ReadNext returns frame idx.
	Seek(idx int) error
	// ReadNext returns the next frame, or io.EOF when the stream is exhausted.
	ReadNext() (image.Image, error)
	// Release stops decoding and frees the underlying process. It is safe to
	// call more than once.
	Release() error
}

// Opener opens video files as frame sources.
type Opener interface {
	Open(ctx context.Context, path string) (FrameSource, error)
}

// FFmpeg opens videos by probing them with ffprobe and piping raw RGB frames
// out of ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	// MaxWidth makes ffmpeg downscale frames wider than this. 0 keeps the
	// native size.
	MaxWidth int
}

// NewFFmpeg creates an opener using the given binaries, falling back to the
// names on $PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, maxWidth int) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, MaxWidth: maxWidth}
}

// probeResult is the subset of `ffprobe -of json` output we read
type probeResult struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideData []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type videoInfo struct {
	width, height int // as decoded, after ffmpeg applies the rotation metadata
	fps           float64
	frames        int
	rotation      int // degrees, normalized to [0, 360)
}

// Open probes path and prepares a frame source. Decoding starts lazily on the
// first Seek or ReadNext.
func (f *FFmpeg) Open(ctx context.Context, path string) (FrameSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	info, err := f.probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	scaled := false
	if f.MaxWidth > 0 && info.width > f.MaxWidth {
		scaled = true
		info.height = max(int(float64(info.height)*float64(f.MaxWidth)/float64(info.width))&^1, 2)
		info.width = f.MaxWidth
	}

	return &ffmpegSource{
		ctx:    ctx,
		bin:    f.FFmpegPath,
		path:   path,
		info:   info,
		scaled: scaled,
	}, nil
}

func (f *FFmpeg) probe(ctx context.Context, path string) (videoInfo, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath, //nolint:gosec
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:stream_tags=rotate:stream_side_data=rotation:format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return videoInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return videoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (videoInfo, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return videoInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return videoInfo{}, errors.New("no video stream")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return videoInfo{}, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}

	info := videoInfo{width: s.Width, height: s.Height}
	// ffmpeg autorotates, so quarter turns swap the decoded frame size
	rotation := parseFloat(strings.TrimPrefix(s.Tags.Rotate, "-"))
	if strings.HasPrefix(s.Tags.Rotate, "-") {
		rotation = -rotation
	}
	for _, sd := range s.SideData {
		if sd.Rotation != 0 {
			rotation = sd.Rotation
		}
	}
	info.rotation = ((int(math.Round(rotation)) % 360) + 360) % 360
	if info.rotation == 90 || info.rotation == 270 {
		info.width, info.height = info.height, info.width
	}
	info.fps = parseFrameRate(s.AvgFrameRate)
	if info.fps == 0 {
		info.fps = parseFrameRate(s.RFrameRate)
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.frames = n
	} else {
		duration := parseFloat(s.Duration)
		if duration == 0 {
			duration = parseFloat(res.Format.Duration)
		}
		info.frames = int(math.Round(duration * info.fps))
	}
	return info, nil
}

// parseFrameRate parses ffprobe rates like "30000/1001"
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// ffmpegSource decodes frames sequentially from an ffmpeg child process.
type ffmpegSource struct {
	ctx    context.Context
	bin    string
	path   string
	info   videoInfo
	scaled bool

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	reader   *bufio.Reader
	position int // index of the frame the next read returns
	released bool
}

func (s *ffmpegSource) FrameRate() float64 { return s.info.fps }
func (s *ffmpegSource) FrameCount() int    { return s.info.frames }

func (s *ffmpegSource) frameSize() int {
	return s.info.width * s.info.height * 3
}

// start launches ffmpeg from the beginning of the stream.
func (s *ffmpegSource) start() error {
	args := []string{"-v", "error", "-nostdin", "-i", s.path}
	if s.scaled {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", s.info.width, s.info.height))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1")

	cmd := exec.CommandContext(s.ctx, s.bin, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %w", ErrSourceUnreadable, err)
	}
	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, s.frameSize())
	s.position = 0
	return nil
}

// stop kills the decoder; the caller holds mu.
func (s *ffmpegSource) stop() error {
	if s.cmd == nil {
		return nil
	}
	_ = s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()
	s.cmd, s.stdout, s.reader = nil, nil, nil

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on purpose
		return nil
	}
	return err
}

func (s *ffmpegSource) Seek(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return errors.New("frame source released")
	}
	if idx < 0 {
		return fmt.Errorf("invalid frame index %d", idx)
	}
	if s.cmd == nil || idx < s.position {
		if err := s.stop(); err != nil {
			return err
		}
		if err := s.start(); err != nil {
			return err
		}
	}

	skip := int64(idx-s.position) * int64(s.frameSize())
	n, err := io.CopyN(io.Discard, s.reader, skip)
	s.position += int(n / int64(s.frameSize()))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("seek to frame %d: %w", idx, err)
	}
	return nil
}

func (s *ffmpegSource) ReadNext() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, io.EOF
	}
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, s.frameSize())
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame %d: %w", s.position, err)
	}
	s.position++
	return rgbToImage(buf, s.info.width, s.info.height), nil
}

func (s *ffmpegSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	return s.stop()
}

// rgbToImage converts packed rgb24 pixels to an RGBA image.
func rgbToImage(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xFF
	}
	return img
}
