// Package katcp implements the client side of KATCP, the line-oriented
// control protocol spoken by the CASPER board control server.
//
// Every line is one message: a type sigil (? request, ! reply, # inform), a
// name, an optional [id] and space-separated escaped arguments. The first
// argument of a reply is its status ("ok", "fail" or "invalid").
//
// # Usage
//
//	c, err := katcp.Dial(ctx, "snap0", katcp.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	resp, err := c.Request(ctx, "wordread", "sys_clkcounter", "0")
//
// Informs sent while a request is outstanding and carrying the same name are
// collected into the Response. Asynchronous informs, such as "#fpga ready"
// after programming, are awaited with Watch.
//
// # Limitations
//
//   - Message ids are decoded but requests are sent without them; replies are
//     matched by name and requests are serialised.
//   - Server-originated requests are logged and ignored.
package katcp
