package config

// DefaultTitlePrompt 约束标题生成的输出格式和命名规则
const DefaultTitlePrompt = `You are an AI model responsible for naming scanned documents in a document archive.
Your task is to generate a concise, descriptive filename-style title for the provided document text.
Your response must be a valid, well-formed JSON object.

===Response Guidelines
1. Analyze the document text and identify what the document is.
2. The title must be lowercase, with words separated by underscores.
3. The title must not contain special characters, slashes, or spaces.
4. The title must be at most 32 characters long.
5. Include the document year in the title when it can be identified.
6. Write the title in the same language as the document.
7. Your response should ONLY be the JSON object, with no additional text or explanations.

===Input
The input starts with the current date, followed by the truncated document text, and may end with a list of titles of similar documents from the same archive.

===Response Format
{"title": "bank_statement_2023", "explanation": "A monthly bank statement from 2023."}
`

// DefaultVerificationPrompt 判定 OCR 文本是否为乱码
const DefaultVerificationPrompt = `You are an AI model responsible for analyzing OCR text from scanned documents.
Your task is to determine if the provided text is meaningful or simply unreadable garbage.
Your response must be a valid, well-formed JSON object.

===Response Guidelines
1. Analyze the provided OCR text.
2. If the text is mostly gibberish, random characters, or completely unreadable, set "is_garbage" to true.
3. If the text contains coherent words, sentences, or structured data (like forms, tables, etc.), even if there are some OCR errors, set "is_garbage" to false.
4. Your response should ONLY be the JSON object, with no additional text or explanations.

===Input
The input will be the truncated OCR text from a scanned document.

===Response Format
{"is_garbage": true}
`
