//go:build darwin || linux

// Shared utilities for the purego-based native backends.

package streamdec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libEnvDir names a directory searched for every native library.
const libEnvDir = "MEDIA_SDK_LIB_PATH"

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	// Find string length
	p := unsafe.Pointer(ptr)
	var length int
	for *(*byte)(unsafe.Add(p, length)) != 0 {
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// libFileName returns the platform file name of a shared library base name.
func libFileName(base string) string {
	if runtime.GOOS == "darwin" {
		return base + ".dylib"
	}
	return base + ".so"
}

// nativeLibPaths lists where a native library is looked for, highest
// priority first: envFile (a full path), MEDIA_SDK_LIB_PATH, next to the
// executable, the build directories of the module, then system paths.
func nativeLibPaths(base, envFile string) []string {
	libName := libFileName(base)
	var paths []string

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv(envFile); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv(libEnvDir); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to source and module roots (works in IDE/tests)
	for _, root := range []string{findSourceRoot(), findModuleRoot()} {
		if root != "" {
			paths = append(paths,
				filepath.Join(root, "build", libName),
				filepath.Join(root, "build", "ffi", libName),
			)
		}
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/opt/homebrew/lib", libName),
		)
	case "linux":
		paths = append(paths,
			libName,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/usr/lib", libName),
			filepath.Join("/usr/lib/x86_64-linux-gnu", libName),
		)
	}
	return paths
}

// dlopenFirst opens the first library in paths that loads and whose symbols
// bind. bind must register every function the backend uses.
func dlopenFirst(base string, paths []string, bind func(handle uintptr) error) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := bind(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return handle, nil
	}
	if lastErr != nil {
		return 0, fmt.Errorf("failed to load %s: %w", base, lastErr)
	}
	return 0, errors.New(base + " not found in any standard location")
}

// registerFuncs binds symbols with purego, turning its panics on missing
// symbols into an error.
func registerFuncs(handle uintptr, funcs map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bind symbols: %v", r)
		}
	}()
	for name, fptr := range funcs {
		purego.RegisterLibFunc(fptr, handle, name)
	}
	return nil
}

// findSourceRoot returns the directory holding this file at build time.
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(file)
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err != nil {
		return ""
	}
	return dir
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
