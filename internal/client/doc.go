// Package client talks to a running OTA server's operator API.
//
// # Basic Usage
//
//	c := client.New("http://buildbox.local:8080")
//	snap, err := c.Snapshot(ctx)
//	if err != nil {
//	    fmt.Println(client.GetShortErrorMessage(err))
//	    return
//	}
//	for _, d := range snap.Devices {
//	    fmt.Println(d.Key, d.Status)
//	}
//
//	res, err := c.Approve(ctx, "AA:BB:CC:DD:EE:FF")
//
// # Error Handling
//
// Every method returns *APIError. Network failures and 5xx responses are
// retried with exponential backoff; operator rejections (invalid-target,
// not-found, invalid-action) are returned immediately with their reason.
//
// # Live Updates
//
// Stream opens the server's websocket feed and delivers a snapshot on every
// poll until the context is cancelled.
package client
