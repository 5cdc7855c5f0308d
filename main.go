// =============================================================================
// Supplier Reconciler - Main Entry Point
// =============================================================================
//
// USAGE:
//   reconciler process       - Merge waiting supplier forms into the master
//   reconciler stage         - Route the attachments of one mail message
//   reconciler ledger show   - List rejected submissions
//   reconciler config ...    - Show or change the saved locations
//   reconciler version       - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Core business logic (not for external import)
//   - pkg/       : Shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/supplier-reconciler/cmd"
)

func main() {
	cmd.Execute()
}
