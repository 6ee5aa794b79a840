package event

/*
Event schema versioning
=======================

Outbox payloads outlive the binary that wrote them: a dead letter can sit
in the table across several deployments before an operator retries it, and
the processor may read entries written by an older release during a rolling
upgrade. The versioning layer keeps those payloads readable.

How it fits together:

  - BaseDomainEvent carries a schema_version field, serialized with the
    payload. Payloads without the field are treated as version 1.
  - EventUpgrader transforms a payload one version step (v1->v2). Chains
    must be sequential; VersionRegistry validates the chain at registration.
  - VersionedSerializer is the read-side codec: Deserialize extracts the
    payload version and walks the upgrader chain before unmarshaling. The
    write side keeps using the plain EventSerializer, which always emits
    the current schema.
  - EventMigrator upgrades payloads in place without deserializing; the
    outbox service runs it over dead letters before a retry so an old
    payload is retried against the current schema.

Current upgrade paths are declared in RegisterAllVersionedEvents. The only
versioned type today is InvoiceOverdue: v1 payloads predate the late fee
fields, and the v1->v2 upgrader fills in late_fee_applied=false and a zero
late_fee_amount, which is what a fee-less overdue transition would have
produced.

Evolving a schema:

 1. Change the event struct and bump the version passed to
    shared.NewVersionedBaseDomainEvent in its constructor.
 2. Add an upgrader for the previous version in RegisterAllVersionedEvents.
    CommonUpgraders covers the usual cases (AddField, RenameField,
    RemoveField, TransformField); NewBaseEventUpgrader takes a free-form
    transform for anything else.
 3. Cover the upgrade with a test that feeds a real historical payload
    through VersionedSerializer.Deserialize.

Event type names are routing keys; never rename one. A renamed type is a
new type, with the old registration kept until no stored payloads remain.
*/
