// Command clinicctl manages clinic records and prints reports over them.
package main

import (
	"os"
)

func main() {
	a := newApp()
	a.expvarName = "clinic_store"
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}
