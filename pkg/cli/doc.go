/*
Package cli provides helpers shared by the warden commands: error types with
process exit codes, output formatters, a progress reporter for long exports,
and signal handling.

Output Formatting:

Commands print either text or JSON:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, decision); err != nil {
		return err
	}

Values implementing TextRenderer control their own text form.

Exit Codes:

ExitCode maps a command error to the process exit status. A denied or
unjustified plan exits with ExitDenied so scripts can tell a policy decision
apart from a failure.

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
