// Package upload turns decoded texture data into device images.
//
// Uploading happens in two phases. Prepare runs on the decode goroutine and
// only does CPU work: it validates the description, picks the device format,
// decides the mip chain and converts surfaces. Finalize runs on the thread
// that owns the device and records the actual GPU commands.
package upload

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/texpipe/internal/engine/gpu"
	"github.com/Faultbox/texpipe/internal/engine/texture/codec"
	"github.com/Faultbox/texpipe/internal/logger"
)

var (
	// ErrUnsupportedFormat is returned when the device cannot use the
	// decoded format and no conversion applies.
	ErrUnsupportedFormat = errors.New("upload: unsupported format")
	// ErrInvalidDescription is returned for inconsistent decoded data.
	ErrInvalidDescription = errors.New("upload: invalid texture description")
)

// MipmapMode selects where a texture's mip chain comes from.
type MipmapMode int

const (
	// MipmapLoadOrGenerate uses file levels when present, else generates.
	MipmapLoadOrGenerate MipmapMode = iota
	// MipmapIgnore uploads the base level only.
	MipmapIgnore
	// MipmapLoad uploads the levels stored in the file, if any.
	MipmapLoad
	// MipmapGenerate discards file levels and builds a full chain on the GPU.
	MipmapGenerate
)

var mipmapModeNames = []string{"load_or_generate", "ignore", "load", "generate"}

func (m MipmapMode) String() string {
	if m < 0 || int(m) >= len(mipmapModeNames) {
		return fmt.Sprintf("MipmapMode(%d)", int(m))
	}
	return mipmapModeNames[m]
}

// ParseMipmapMode parses a config value such as "load_or_generate".
func ParseMipmapMode(s string) (MipmapMode, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range mipmapModeNames {
		if s == name {
			return MipmapMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mipmap mode %q", s)
}

// Options control one upload.
type Options struct {
	Mipmaps MipmapMode
	// FinalFormat, when set and different from the uploaded format, makes
	// Finalize blit the texture into a second image of this format.
	FinalFormat gpu.Format
	SRGB        bool
	Label       string
}

// Prepared is the CPU side result of Prepare. It owns its surface bytes and
// may be handed to another goroutine for Finalize.
type Prepared struct {
	// Desc is the image Finalize will create and fill.
	Desc gpu.ImageDesc
	// Generate is set when levels beyond the first are built on the GPU.
	Generate bool
	// Converted is set when surfaces were expanded to a four-channel format.
	Converted bool
	// Final is the post-conversion image, or nil.
	Final *gpu.ImageDesc

	loadLevels uint32
	surfaces   [][]byte
}

// SurfaceCount returns how many surfaces will be staged.
func (p *Prepared) SurfaceCount() int { return len(p.surfaces) }

// Bytes returns the total staged byte size.
func (p *Prepared) Bytes() int {
	n := 0
	for _, s := range p.surfaces {
		n += len(s)
	}
	return n
}

// Processor runs both upload phases against one device.
type Processor struct {
	dev gpu.Device
}

// New returns a processor for dev.
func New(dev gpu.Device) *Processor {
	return &Processor{dev: dev}
}

// Prepare validates info, resolves format and mip policy and collects the
// surfaces from h. It only queries device format features, which is safe
// off the owning thread.
func (p *Processor) Prepare(h codec.Handler, info codec.InputInfo, opts Options) (*Prepared, error) {
	if err := validate(info); err != nil {
		return nil, err
	}

	format := info.Format
	var expand func([]byte) []byte
	feat := p.dev.FormatFeatures(format)
	if !feat.Has(gpu.FeatureSampled) {
		conv := info.ConversionFormat
		if conv == gpu.FormatUndefined {
			conv = format.Expanded()
		}
		if conv == gpu.FormatUndefined || conv != format.Expanded() {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
		}
		feat = p.dev.FormatFeatures(conv)
		if !feat.Has(gpu.FeatureSampled) {
			return nil, fmt.Errorf("%w: %s (converted to %s)", ErrUnsupportedFormat, format, conv)
		}
		logger.Debug("expanding texture to four channels",
			zap.String("label", opts.Label),
			zap.Stringer("from", format),
			zap.Stringer("to", conv))
		format = conv
		expand = expandRGB
	}

	load, levels, generate := mipPolicy(opts.Mipmaps, info, format, feat)
	if generate && levels == 1 {
		logger.Debug("mipmap generation unavailable, using one level",
			zap.String("label", opts.Label),
			zap.Stringer("format", format))
		generate = false
	}

	out := &Prepared{
		Desc: gpu.ImageDesc{
			Label:   opts.Label,
			Width:   info.Width,
			Height:  info.Height,
			Layers:  info.Layers,
			Levels:  levels,
			Format:  format,
			Cubemap: info.Cubemap(),
			SRGB:    info.SRGB() || opts.SRGB,
			Usage:   gpu.UsageSampled | gpu.UsageTransferDst,
			Swizzle: info.Swizzle,
		},
		Generate:   generate,
		Converted:  expand != nil,
		loadLevels: load,
		surfaces:   make([][]byte, 0, info.Layers*load),
	}
	if generate {
		out.Desc.Usage |= gpu.UsageTransferSrc
	}

	if opts.FinalFormat != gpu.FormatUndefined && opts.FinalFormat != format {
		final, err := p.finalDesc(out.Desc, opts.FinalFormat, feat)
		if err != nil {
			return nil, err
		}
		out.Desc.Usage |= gpu.UsageTransferSrc
		out.Final = final
	}

	for layer := uint32(0); layer < info.Layers; layer++ {
		for mip := uint32(0); mip < load; mip++ {
			s, err := h.Data(layer, mip)
			if err != nil {
				return nil, fmt.Errorf("upload: surface %d/%d: %w", layer, mip, err)
			}
			w, ht := gpu.MipExtent(info.Width, info.Height, mip)
			if want := info.Format.SurfaceSize(w, ht); len(s) != want {
				return nil, fmt.Errorf("%w: surface %d/%d is %d bytes, want %d",
					ErrInvalidDescription, layer, mip, len(s), want)
			}
			if expand != nil {
				s = expand(s)
			}
			out.surfaces = append(out.surfaces, s)
		}
	}
	return out, nil
}

func validate(info codec.InputInfo) error {
	switch {
	case info.Width == 0 || info.Height == 0:
		return fmt.Errorf("%w: zero extent %dx%d", ErrInvalidDescription, info.Width, info.Height)
	case info.Layers == 0 || info.Mipmaps == 0:
		return fmt.Errorf("%w: %d layers, %d mipmaps", ErrInvalidDescription, info.Layers, info.Mipmaps)
	case !info.Format.Valid():
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, info.Format)
	case info.Cubemap() && info.Layers%6 != 0:
		return fmt.Errorf("%w: cubemap with %d layers", ErrInvalidDescription, info.Layers)
	case info.Mipmaps > gpu.MipmapCount(info.Width, info.Height):
		return fmt.Errorf("%w: %d mipmaps for %dx%d", ErrInvalidDescription, info.Mipmaps, info.Width, info.Height)
	}
	return nil
}

// mipPolicy returns how many file levels to upload, the total level count
// of the image and whether the rest is generated on the GPU.
func mipPolicy(mode MipmapMode, info codec.InputInfo, format gpu.Format, feat gpu.FormatFeature) (load, levels uint32, generate bool) {
	switch mode {
	case MipmapIgnore:
		return 1, 1, false
	case MipmapLoad:
		return info.Mipmaps, info.Mipmaps, false
	case MipmapLoadOrGenerate:
		if info.Mipmaps > 1 {
			return info.Mipmaps, info.Mipmaps, false
		}
	}
	// Generation blits level n into n+1, so both directions must work.
	if format.Compressed() || !feat.Has(gpu.FeatureBlitSrc|gpu.FeatureBlitDst) {
		return 1, 1, true
	}
	return 1, gpu.MipmapCount(info.Width, info.Height), true
}

func (p *Processor) finalDesc(src gpu.ImageDesc, final gpu.Format, srcFeat gpu.FormatFeature) (*gpu.ImageDesc, error) {
	if final.Compressed() || !final.Valid() {
		return nil, fmt.Errorf("%w: cannot convert into %s", ErrUnsupportedFormat, final)
	}
	dstFeat := p.dev.FormatFeatures(final)
	if !srcFeat.Has(gpu.FeatureBlitSrc) || !dstFeat.Has(gpu.FeatureSampled|gpu.FeatureBlitDst) {
		return nil, fmt.Errorf("%w: no blit path %s -> %s", ErrUnsupportedFormat, src.Format, final)
	}
	d := src
	d.Label = src.Label + " (final)"
	d.Format = final
	d.Usage = gpu.UsageSampled | gpu.UsageTransferDst
	// Only level 0 is blitted; the rest of the chain is rebuilt.
	if d.Levels > 1 {
		if dstFeat.Has(gpu.FeatureBlitSrc) {
			d.Usage |= gpu.UsageTransferSrc
		} else {
			d.Levels = 1
		}
	}
	return &d, nil
}

// Finalize creates the image described by prep, stages and copies every
// surface, transitions it for sampling and flushes once. It must run on
// the thread that owns the device. On error nothing created here survives.
func (p *Processor) Finalize(prep *Prepared) (gpu.Image, error) {
	img, err := p.dev.CreateImage(prep.Desc)
	if err != nil {
		return nil, fmt.Errorf("upload: create image %q: %w", prep.Desc.Label, err)
	}

	var staging []gpu.Buffer
	var final gpu.Image
	fail := func(err error) (gpu.Image, error) {
		p.dev.DiscardSetupCommands()
		for _, b := range staging {
			b.Destroy()
		}
		if final != nil {
			final.Destroy()
		}
		img.Destroy()
		return nil, err
	}

	cmd := p.dev.Commands()
	cmd.Barrier(img, gpu.LayoutUndefined, gpu.LayoutTransferDst)
	for i, s := range prep.surfaces {
		layer := uint32(i) / prep.loadLevels
		mip := uint32(i) % prep.loadLevels
		buf, err := p.dev.CreateStagingBuffer(s)
		if err != nil {
			return fail(fmt.Errorf("upload: staging surface %d/%d: %w", layer, mip, err))
		}
		staging = append(staging, buf)
		cmd.CopyBufferToImage(buf, img, layer, mip)
	}

	if prep.Generate {
		cmd.GenerateMipmaps(img)
	} else {
		cmd.Barrier(img, gpu.LayoutTransferDst, gpu.LayoutShaderRead)
	}

	if prep.Final != nil {
		final, err = p.dev.CreateImage(*prep.Final)
		if err != nil {
			final = nil
			return fail(fmt.Errorf("upload: create image %q: %w", prep.Final.Label, err))
		}
		cmd.Barrier(img, gpu.LayoutShaderRead, gpu.LayoutTransferSrc)
		cmd.Barrier(final, gpu.LayoutUndefined, gpu.LayoutTransferDst)
		cmd.Blit(img, final)
		if prep.Final.Levels > 1 {
			cmd.GenerateMipmaps(final)
		} else {
			cmd.Barrier(final, gpu.LayoutTransferDst, gpu.LayoutShaderRead)
		}
	}

	if err := p.dev.FlushSetupCommands(); err != nil {
		return fail(fmt.Errorf("upload: flush %q: %w", prep.Desc.Label, err))
	}
	for _, b := range staging {
		b.Destroy()
	}
	prep.surfaces = nil

	if final != nil {
		img.Destroy()
		return final, nil
	}
	return img, nil
}

// Upload runs Prepare and Finalize back to back on the calling thread.
func (p *Processor) Upload(h codec.Handler, info codec.InputInfo, opts Options) (gpu.Image, error) {
	prep, err := p.Prepare(h, info, opts)
	if err != nil {
		return nil, err
	}
	return p.Finalize(prep)
}

// expandRGB widens packed three-channel pixels to four channels with an
// opaque alpha. Channel order is preserved, so it serves RGB and BGR alike.
func expandRGB(src []byte) []byte {
	n := len(src) / 3
	dst := make([]byte, n*4)
	for i := 0; i < n; i++ {
		dst[i*4+0] = src[i*3+0]
		dst[i*4+1] = src[i*3+1]
		dst[i*4+2] = src[i*3+2]
		dst[i*4+3] = 0xff
	}
	return dst
}
