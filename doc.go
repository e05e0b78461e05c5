// Package por and its sub-packages implement a proof-of-reserves verifier for Ethereum-type ledgers.
/*
An exchange claims to hold an amount of reserves in an account. The verifier reads the account balance from the ledger,
compares it with the claim and commits the outcome, verified or not and the discrepancy percentage, to a ReserveOracle
contract. When the discrepancy reaches the configured threshold an alert is raised in an AlertContract. The record
stored on the ledger is then read back and returned with the result.

Architecture

The verification pipeline (package verifier) is a state machine per run: fetching_balance, evaluating, committing,
alerting, reading_back and done, or errored. Runs can execute concurrently. Every ledger write of the service is signed
by a single identity, so writes go through a sequencer (package verifier/sequencer) that hands out one token at a time
in FIFO order. Each token carries the nonce the ledger reports for the signer once the token is granted, and is given
back after the write is confirmed, rejected or timed out.

A blockchain layer (package lib/block) keeps the ledger behind a product agnostic interface. The ethereum
implementation signs EIP-1559 transactions with a raw key or a key derived from an HD wallet seed.

Finished runs are optionally saved to a database (package lib/store, MongoDB or PostgreSQL) and published to a message
broker (package lib/msg, AMQP). The ledger remains the system of record, these are a best-effort history.

Verifier

The service can be started with cmd/porserver. "porserver serve" exposes an HTTP RESTful API to check claims, run
verifications, commit verifications or raise alerts by hand and read stored records and run history. A fixed claim can
be verified on a cron schedule. "porserver check" runs a single verification from the command line.

The service can also be monitored via a Prometheus API by setting the flag "-m" at startup.
*/
package por
