package api

// Money amounts and unit quantities travel as strings so clients never lose
// precision to floating point; the patterns bound them to two and eight
// decimal places respectively.

const investSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["asset_id", "amount"],
  "properties": {
    "asset_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "amount": {"type": "string", "pattern": "^[0-9]{1,12}(\\.[0-9]{1,2})?$"}
  }
}`

const sellSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["asset_id", "units"],
  "properties": {
    "asset_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "units": {"type": "string", "pattern": "^[0-9]{1,12}(\\.[0-9]{1,8})?$"}
  }
}`

const grantSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {
    "amount": {"type": "string", "pattern": "^[0-9]{1,12}(\\.[0-9]{1,2})?$"}
  }
}`
