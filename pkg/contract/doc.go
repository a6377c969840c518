/*
Package contract loads the subject contract catalog and validates payloads.

A catalog lists one contract per subject. A contract either names an exact
subject or a subject pattern ("*" for one token, ">" for the tail), and
carries a JSON schema for its payload. Schemas are compiled once by NewIndex
using google/jsonschema-go.

# Resolution

Find checks the exact map first, then the pattern list in registration
order; the first match wins. A subject with one extra trailing token, such
as "round.created.v1.guild-42", resolves to the contract for
"round.created.v1" only when that contract sets supportsScopedSuffix.

# Validation

Validate returns a *ContractViolation, which matches ErrContractViolation
with errors.Is, when the subject has no contract, the payload is not JSON,
or the payload does not satisfy the schema. The index is read-only after
construction and safe for concurrent use.

	catalog, err := contract.LoadCatalog("configs/contracts.yaml")
	if err != nil {
		return err
	}
	idx, err := contract.NewIndex(catalog)
	if err != nil {
		return err
	}
	if err := idx.Validate("round.created.v1", payload); err != nil {
		logger.Warn().Err(err).Msg("dropping payload")
	}
*/
package contract
