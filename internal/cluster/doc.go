// Package cluster manages the set of node runtimes taking part in one
// benchmark: a single sink and any number of clients.
//
// # Basic Usage
//
//	medium := transport.NewMedium(transport.MediumConfig{})
//	medium.Start(ctx)
//
//	c := cluster.New()
//	if err := c.CreateNodes(medium, 5, cluster.NodeOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.StartAll(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.StopAll()
//
//	// Same command to every node, sink first
//	c.Broadcast(cmd)
//
// # Thread Safety
//
// All cluster operations are thread-safe. Nodes are started and stopped in
// parallel.
package cluster
