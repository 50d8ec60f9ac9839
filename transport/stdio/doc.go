// Package stdio implements a single-connection transport over a pair of
// byte streams framed as newline-delimited JSON. It is intended for
// embedding servers as subprocesses, for local development, and for reaching
// upstream servers that are launched as child processes (see NewCommand).
//
// Characteristics
//
//	Connection model : 1 process <-> 1 peer
//	Auth             : OS user (lightweight implicit principal)
//	Framing          : one JSON-RPC message per line
//
// Example:
//
//	t := stdio.New() // os.Stdin / os.Stdout
//	srv := server.New(reg, server.WithServerInfo(info))
//	if err := srv.Serve(ctx, t); err != nil { log.Fatal(err) }
package stdio
