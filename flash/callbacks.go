package flash

import "time"

// Progress phases.
const (
	PhaseLoading        = "loading"
	PhaseInitializing   = "initializing"
	PhaseErasing        = "erasing"
	PhaseProgramming    = "programming"
	PhaseUninitializing = "uninitializing"
	PhaseVerifying      = "verifying"
	PhaseComplete       = "complete"
)

// Progress contains information about the flashing progress.
// Passed to ProgressCallback during flash operations.
type Progress struct {
	// Phase describes the current operation phase:
	//   "loading"        - Writing the algorithm to target RAM
	//   "initializing"   - Running the algorithm's Init function
	//   "erasing"        - Erasing sectors
	//   "programming"    - Programming pages
	//   "uninitializing" - Running the algorithm's UnInit function
	//   "verifying"      - Reading programmed pages back
	//   "complete"       - Operation completed successfully
	Phase string

	// Algorithm is the name of the algorithm of the current session
	Algorithm string

	// Address is the sector or page being worked on
	Address uint64

	// CurrentSector is the number of sectors erased so far
	CurrentSector int

	// TotalSectors is the total number of sectors to erase
	TotalSectors int

	// CurrentPage is the number of pages programmed so far
	CurrentPage int

	// TotalPages is the total number of pages to program
	TotalPages int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of page bytes programmed so far
	BytesWritten int

	// ElapsedTime is the time elapsed since the operation started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically during flashing to report progress.
// Implementations should return quickly to avoid blocking the flash operation.
//
// Example:
//
//	f := flash.New(link, catalog,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("[%s] %.1f%% - page %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentPage, p.TotalPages)
//	    }),
//	)
type ProgressCallback func(Progress)
