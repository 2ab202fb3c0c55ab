// Package media finds capture devices and exercises them through the
// system's capture tools.
package media

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

// Device node patterns relative to the device root.
const (
	videoPattern = "video*"
	audioPattern = "snd/pcmC*D*c"
)

var pcmName = regexp.MustCompile(`^pcmC(\d+)D(\d+)c$`)

// Enumerator lists capture devices under a device root, normally /dev.
type Enumerator struct {
	root   string
	fsys   fs.FS
	logger *slog.Logger
}

// NewEnumerator creates an enumerator rooted at root.
func NewEnumerator(root string, logger *slog.Logger) *Enumerator {
	return NewEnumeratorFS(root, os.DirFS(root), logger)
}

// NewEnumeratorFS creates an enumerator over fsys. root is only used to
// build device paths.
func NewEnumeratorFS(root string, fsys fs.FS, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{root: root, fsys: fsys, logger: logger}
}

// Root returns the device root.
func (e *Enumerator) Root() string { return e.root }

// Enumerate returns every video and audio capture device, video first.
func (e *Enumerator) Enumerate(ctx context.Context) ([]probe.Device, error) {
	if _, err := fs.Stat(e.fsys, "."); err != nil {
		return nil, &pkgerrors.DeviceError{Path: e.root, Err: err}
	}

	var devices []probe.Device

	videos, err := doublestar.Glob(e.fsys, videoPattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", videoPattern, err)
	}
	sort.Strings(videos)
	for _, match := range videos {
		devices = append(devices, probe.Device{
			ID:    match,
			Kind:  probe.DeviceVideo,
			Label: match,
			Path:  filepath.Join(e.root, filepath.FromSlash(match)),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audios, err := doublestar.Glob(e.fsys, audioPattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", audioPattern, err)
	}
	sort.Strings(audios)
	for _, match := range audios {
		id := path.Base(match)
		label := id
		if m := pcmName.FindStringSubmatch(id); m != nil {
			label = fmt.Sprintf("plughw:%s,%s", m[1], m[2])
		}
		devices = append(devices, probe.Device{
			ID:    id,
			Kind:  probe.DeviceAudio,
			Label: label,
			Path:  filepath.Join(e.root, filepath.FromSlash(match)),
		})
	}

	e.logger.Debug("enumerated capture devices", "root", e.root, "video", len(videos), "audio", len(audios))
	return devices, nil
}

// Resolve picks the device node for a probe. name may be a path, a node
// name like video0, or an ALSA name like hw:1,0. An empty name or an
// ALSA alias such as "default" picks the first device of that kind.
func (e *Enumerator) Resolve(ctx context.Context, kind, name string) (probe.Device, error) {
	devices, err := e.Enumerate(ctx)
	if err != nil {
		return probe.Device{}, pkgerrors.New(pkgerrors.KindDeviceMissing, err)
	}

	want := strings.TrimSpace(name)
	if kind == probe.DeviceAudio {
		want = alsaToNode(want)
	}

	for _, d := range devices {
		if d.Kind != kind {
			continue
		}
		if want == "" || want == d.Path || want == d.ID || want == d.Label || filepath.Base(want) == d.ID {
			return d, nil
		}
	}
	return probe.Device{}, pkgerrors.New(pkgerrors.KindDeviceMissing, fmt.Errorf("%w: %s %s", pkgerrors.ErrNoDevice, kind, name))
}

// alsaToNode maps hw:C,D and plughw:C,D to pcmCcDdc. Aliases such as
// "default" or "pulse" map to "", meaning any capture device.
func alsaToNode(name string) string {
	for _, prefix := range []string{"plughw:", "hw:"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			card, dev, found := strings.Cut(rest, ",")
			if !found {
				dev = "0"
			}
			return fmt.Sprintf("pcmC%sD%sc", card, dev)
		}
	}
	if strings.Contains(name, "/") || pcmName.MatchString(name) {
		return name
	}
	return ""
}
