package nl2sql

import (
	"fmt"
	"strings"
)

const generationSystemPrompt = `You are a text-to-SQL agent. You generate SQL queries from natural language requests.
You are given the database information: table names, column names with data types and constraints, and a few sample rows per table.

Your task:
- Analyze the user's request.
- Refer to the provided database information.
- Generate the most accurate SQL query that retrieves the requested data.
- Use table names and column names exactly as they appear in the database.

ONLY ANSWER WITH SQL.`

const diagnosisSystemPrompt = `Given a SQL error message, the incorrect SQL, the user request and the database information, write concise instructions for another agent on how to resolve the issue.

Cover:
1. Error diagnosis: briefly describe the issue (e.g. "Column not found in the table").
2. Analysis: identify the root cause (e.g. "The column age does not exist in the users table").
3. Solution: specify the necessary fix (e.g. "Correct the column name to dob").
4. Verification: suggest how to check the fix.

Common error types:
1. Request not related to SQL or the database: output a query like SELECT "` + OutOfScopeSentinel + `";
2. Incorrect column, value or table: correct the name or point at the schema.
3. Incorrect data type conversion: use matching types or conversion functions such as CAST().

Think about the error step by step.`

const fixSystemPrompt = `You are a SQL dialect expert. Given instructions from an error reasoning agent, generate a corrected SQL query that fixes the identified error. Pay attention to database-specific syntax.

Strategy:
1. Identify the issue from the instructions.
2. Locate the problematic syntax.
3. Apply the correction while preserving the query logic (joins, filters, grouping).
4. Make sure the result is valid SQL for the target database.

Rules:
- ONLY output the corrected SQL query.
- Do not add explanations or comments.
- Apply only the fix described in the instructions.`

func generationUserPrompt(question, schemaContext string) string {
	return fmt.Sprintf("Database information:\n%s\n\nUser request:\n%s", strings.TrimSpace(schemaContext), strings.TrimSpace(question))
}

func diagnosisUserPrompt(req DiagnosisRequest) string {
	return fmt.Sprintf(
		"SQL error message:\n%s\n\nIncorrect SQL:\n%s\n\nUser request:\n%s\n\nDatabase information:\n%s",
		strings.TrimSpace(req.ErrorText),
		strings.TrimSpace(req.FailingSQL),
		strings.TrimSpace(req.Question),
		strings.TrimSpace(req.SchemaContext),
	)
}

func withDialect(systemPrompt, dialect string) string {
	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nTarget database: " + dialect + "."
}
