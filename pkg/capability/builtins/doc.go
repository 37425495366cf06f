// Package builtins provides the capability sources shipped with maia:
// UMLS terminology lookups, oncology path search, PubMed literature
// search, ClinicalTrials.gov search, Open Targets queries and the remote
// tool gateway.
//
// Every source implements capability.Source. HTTP-backed sources take an
// HTTPConfig so tests can point them at httptest servers.
package builtins
