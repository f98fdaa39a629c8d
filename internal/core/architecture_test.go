package core

import (
	"testing"

	"cliniccore/testutil"
)

func TestStoreDependsOnBlobFacadeOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "store must reach storage drivers through internal/blob")
}
