package installer

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agpm-dev/agpm/pkg/agpmlock"
	"github.com/agpm-dev/agpm/pkg/agpmmanifest"
	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// applyPatches applies each patch in order (project patches before
// private ones, the order agpmmanifest.Manifest.PatchesFor already
// returns them in) to content, using diffmatchpatch's unified patch-text
// format, and records one AppliedPatch per successful application with
// origin tracking so the caller can route project vs. private entries
// to the correct lockfile.
func applyPatches(content []byte, file string, patches []agpmmanifest.PatchApplication) ([]byte, []agpmlock.AppliedPatch, error) {
	if len(patches) == 0 {
		return content, nil, nil
	}

	dmp := diffmatchpatch.New()
	out := string(content)
	applied := make([]agpmlock.AppliedPatch, 0, len(patches))

	for _, p := range patches {
		patchList, err := dmp.PatchFromText(p.Diff)
		if err != nil {
			return nil, nil, agpmerrors.Resource(fmt.Errorf("parsing patch %q: %w", p.Name, err), "applying patch")
		}

		result, successes := dmp.PatchApply(patchList, out)
		for _, ok := range successes {
			if !ok {
				return nil, nil, agpmerrors.Resource(fmt.Errorf("patch %q did not apply cleanly to %s", p.Name, file), "applying patch")
			}
		}
		out = result

		applied = append(applied, agpmlock.AppliedPatch{
			Name:    p.Name,
			File:    file,
			Private: p.Private,
		})
	}

	return []byte(out), applied, nil
}
