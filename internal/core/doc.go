// Package core implements the student bulk-import pipeline.
//
// This package holds all domain logic independent of any UI or transport
// layer. It can be used by web handlers, CLI tools, or tests without
// modification; persistence is reached only through the [Store] interface.
//
// # Pipeline
//
// An import moves through fixed stages:
//
//  1. [TokenizeFile] splits a CSV or XLSX upload into a header and data rows
//  2. [MapRecords] binds columns to [ImportRecord] fields by header name
//  3. [ValidateRecords] checks every record; any error rejects the whole file
//  4. [ResolveClass] picks a class for each record that names one
//  5. Records are created one by one through [Store.CreateStudent]
//  6. The import log entry is opened before step 5 and completed after it
//
// [Service.RunImport] starts at step 3 with already mapped records;
// [Service.ImportFile] starts at step 1.
//
// # Async Runs
//
// [Service.StartImport] runs an import in the background and returns a run
// id. Progress is broadcast to subscribers via [Service.SubscribeProgress]:
//
//	runID, _ := svc.StartImport(ctx, req, data)
//	ch, _ := svc.SubscribeProgress(runID)
//	for p := range ch {
//	    fmt.Printf("%.0f%% (%d ok, %d failed)\n", p.Percent(), p.Successful, p.Failed)
//	}
//
// The number of concurrent runs is bounded by an [ImportLimiter]. Finished
// runs stay queryable for IMPORT_RUN_RETENTION before they are evicted.
//
// # Error Handling
//
// Errors are wrapped with context using fmt.Errorf and %w. Sentinels
// ([ErrPermissionDenied], [ErrUnsupportedFileType], [ErrTooManyImports],
// [ErrRunNotFound], [ErrLogNotFound]) and [*MalformedInputError] can be
// matched with errors.Is and errors.As. [MapError] converts any error to a
// user-facing message with a support code.
//
// Per-record ingestion failures are not errors of the run: they are logged
// and reported in [ImportResult.Errors] with a generic message.
package core
