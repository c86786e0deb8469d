package resolver

import (
	"fmt"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/judepayne/go-pods/errs"
)

// pullOCIArtifact pulls the single-layer OCI image ref and writes its first
// layer (the packaged pod archive) to destFile. Pod registries that publish
// via OCI push one compressed layer per artifact, the same convention crane
// export/flatten tooling expects.
func pullOCIArtifact(ref, destFile string) error {
	img, err := crane.Pull(ref)
	if err != nil {
		return errs.Wrap(errs.PodSpawn, err, "pulling oci artifact %s", ref)
	}
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("reading layers of %s: %w", ref, err)
	}
	if len(layers) == 0 {
		return fmt.Errorf("oci artifact %s has no layers", ref)
	}

	rc, err := layers[0].Compressed()
	if err != nil {
		return fmt.Errorf("reading layer 0 of %s: %w", ref, err)
	}
	defer rc.Close()

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destFile, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("writing %s: %w", destFile, err)
	}
	return nil
}
