package leech

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
)

type DownloadDir string

func DirFrom(d string) DownloadDir {
	return DownloadDir(d)
}

func (dir DownloadDir) User(userID int64) UserDir {
	return UserDir(filepath.Join(string(dir), strconv.FormatInt(userID, 10)))
}

type UserDir string

func (dir UserDir) Path() string {
	return string(dir)
}

func (dir UserDir) FilePath(name string) string {
	return filepath.Join(string(dir), name)
}

func (dir UserDir) Ensure() error {
	if err := os.MkdirAll(string(dir), 0o0755); nil != err {
		flawP := flaw.P{"dir": string(dir), "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create user download directory: %v", err)).Append(flawP)
	}
	return nil
}

func (dir UserDir) Remove() error {
	if err := os.RemoveAll(string(dir)); nil != err {
		flawP := flaw.P{"dir": string(dir), "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to remove user download directory: %v", err)).Append(flawP)
	}
	return nil
}

// UniqueFilePath returns a path inside the directory that does not collide
// with an existing file, suffixing the stem with a counter when needed.
func (dir UserDir) UniqueFilePath(name string) string {
	p := dir.FilePath(name)
	if _, err := os.Stat(p); nil != err {
		return p
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for i := 1; ; i++ {
		p = dir.FilePath(fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(p); nil != err {
			return p
		}
	}
}
