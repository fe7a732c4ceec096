/*
Package log provides structured logging via zerolog.

A single package-level Logger is configured once with Init and shared by
every package. Component loggers (WithComponent, WithNode, WithTID,
WithPartition) attach context fields so a master, storage, or client log
line carries its role, node uuid, or transaction id without repeating
.Str() calls at every call site.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	storageLog := log.WithNode(uuid.String(), "storage")
	storageLog.Info().Msg("accepted by primary master")

JSON output is selected with Config.JSONOutput (cmd/neo's --log-json
flag, off by default); otherwise lines go through a zerolog.ConsoleWriter.
*/
package log
