package resolver

import (
	"sync"

	"github.com/gobwas/glob"
)

var (
	platformGlobsMu sync.Mutex
	platformGlobs   = map[string]glob.Glob{}
)

// matchPlatform matches a platform glob pattern ("linux", "darwin*",
// "windows-*") against the toolchain's target platform string. Patterns that
// fail to compile match nothing.
func matchPlatform(pattern, platform string) bool {
	if platform == "" {
		return false
	}

	platformGlobsMu.Lock()
	g, ok := platformGlobs[pattern]
	if !ok {
		var err error
		g, err = glob.Compile(pattern)
		if err != nil {
			g = nil
		}
		platformGlobs[pattern] = g
	}
	platformGlobsMu.Unlock()

	return g != nil && g.Match(platform)
}
