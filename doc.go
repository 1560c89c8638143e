/*
Package menuflow is a conversational flow engine for chat rooms.

A flow is a YAML document describing a graph of nodes (messages, inputs,
switches, HTTP requests, emails, media, time checks, subroutines). The engine
interprets that graph once per conversation, persisting where each
conversation stands so that the next incoming message resumes it.

# Concept

Each conversation is keyed either by a room ("room:<room_id>") or by a
client/room pair ("route:<escaped client_id>:<room_id>"). A trigger (first contact or
a message) runs nodes until the flow waits for input, ends, or is blocked by a
failing side effect. Outbound HTTP calls can be gated by middlewares that
authenticate (JWT, basic, recognition) and retry once credentials are renewed.

# Usage

	eng, err := menuflow.Load("./flow.yaml",
		menuflow.WithFlowUtilsFile("./flow_utils.yaml"),
		menuflow.WithTransport(transport),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	key := domain.RoomKey("!abc:example.com")
	res, err := eng.Process(ctx, key, nil)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("waiting at", res.Conversation.NodeID)

	res, err = eng.Process(ctx, key, &domain.Message{Sender: "@ana:example.com", Body: "hi"})

Storage defaults to memory. Redis (pkg/adapters/redis) and SQL
(pkg/adapters/sqlstore) stores, a Matrix transport and an MQTT event sink are
available as adapters; cmd/menuflow wires them from a configuration file.
*/
package menuflow
