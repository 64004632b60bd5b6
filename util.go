package main

import (
	"io"
	"os"
)

// CopyDir copies a directory recursively. Used by "edgenode chain backup"
// to snapshot the node's data directory to a destination path.
func CopyDir(src string, dst string) error {
	fds, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, fd := range fds {
		srcfp := src + "/" + fd.Name()
		dstfp := dst + "/" + fd.Name()
		if fd.IsDir() {
			if err := CopyDir(srcfp, dstfp); err != nil {
				return err
			}
			continue
		}

		in, err := os.Open(srcfp)
		if err != nil {
			return err
		}
		out, err := os.Create(dstfp)
		if err != nil {
			in.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
