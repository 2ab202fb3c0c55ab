package media

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

// CheckPermission verifies the current user may open the capture device
// of the given kind. The legacy check actually opens the node; the default
// asks the kernel with an access check and never touches the device.
func (c *Capture) CheckPermission(ctx context.Context, kind string, legacy bool, opts probe.MediaOptions) (probe.PermissionResult, error) {
	name := opts.AudioDevice
	if kind == probe.DeviceVideo {
		name = opts.VideoDevice
	}

	dev, err := c.devices.Resolve(ctx, kind, name)
	if err != nil {
		return probe.PermissionResult{}, err
	}

	res := probe.PermissionResult{DeviceKind: kind, Device: dev.Path, Legacy: legacy}
	if legacy {
		err = openCheck(dev.Path)
	} else {
		err = accessCheck(dev.Path)
	}
	if err != nil {
		return res, classifyOpenError(dev.Path, err)
	}
	return res, nil
}

func openCheck(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return pkgerrors.New(pkgerrors.KindPermissionDenied, &pkgerrors.DeviceError{Path: path, Err: pkgerrors.ErrNoDevicePermission})
	case errors.Is(err, fs.ErrNotExist):
		return pkgerrors.New(pkgerrors.KindDeviceMissing, &pkgerrors.DeviceError{Path: path, Err: pkgerrors.ErrNoDevice})
	default:
		return pkgerrors.New(pkgerrors.KindGeneric, &pkgerrors.DeviceError{Path: path, Err: err})
	}
}
